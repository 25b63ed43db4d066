package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/agentbox/internal/app/connectors"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/printer"
	utilsenv "github.com/slok/agentbox/internal/utils/env"
)

// NewConnectorCommand returns the parent command of the connector subcommands.
func NewConnectorCommand(app *kingpin.Application) *kingpin.CmdClause {
	return app.Command("connector", "Manage the tools injected into the agents runtime.")
}

type ConnectorPutCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	name       string
	typ        string
	command    string
	args       []string
	url        string
	envSpecs   []string
	headerSpec []string
}

// NewConnectorPutCommand returns the connector put command.
func NewConnectorPutCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *ConnectorPutCommand {
	c := &ConnectorPutCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("put", "Create or replace a connector.")
	c.Cmd.Arg("name", "Connector name.").Required().StringVar(&c.name)
	c.Cmd.Flag("type", "Connector type.").Default(string(model.ConnectorTypeLocal)).EnumVar(&c.typ, string(model.ConnectorTypeLocal), string(model.ConnectorTypeRemote))
	c.Cmd.Flag("command", "Command of a local connector.").StringVar(&c.command)
	c.Cmd.Flag("arg", "Argument of a local connector command (repeatable).").StringsVar(&c.args)
	c.Cmd.Flag("url", "URL of a remote connector.").StringVar(&c.url)
	c.Cmd.Flag("env", "Secret env var of a local connector in KEY=VALUE format (repeatable).").StringsVar(&c.envSpecs)
	c.Cmd.Flag("header", "Secret header of a remote connector in NAME=VALUE format (repeatable).").StringsVar(&c.headerSpec)

	return c
}

func (c ConnectorPutCommand) Name() string { return c.Cmd.FullCommand() }

func (c ConnectorPutCommand) Run(ctx context.Context) error {
	env, err := utilsenv.ParseSpecs(c.envSpecs)
	if err != nil {
		return fmt.Errorf("invalid --env value: %w", err)
	}
	headers, err := parseHeaders(c.headerSpec)
	if err != nil {
		return fmt.Errorf("invalid --header value: %w", err)
	}

	s, err := newStack(ctx, c.rootCmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	conn, err := s.connectors.Put(ctx, connectors.PutRequest{
		UserID:  c.rootCmd.UserID,
		Name:    c.name,
		Type:    model.ConnectorType(c.typ),
		Command: c.command,
		Args:    c.args,
		URL:     c.url,
		Secrets: model.ConnectorSecrets{Env: env, Headers: headers},
	})
	if err != nil {
		return fmt.Errorf("could not store connector: %w", err)
	}

	return printer.NewTablePrinter(c.rootCmd.Stdout).PrintMessage(fmt.Sprintf("Connector %s stored", conn.Name))
}

func parseHeaders(specs []string) (map[string]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	headers := make(map[string]string, len(specs))
	for _, spec := range specs {
		name, value, ok := strings.Cut(spec, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("header %q must be in NAME=VALUE format", spec)
		}
		headers[name] = value
	}
	return headers, nil
}

type ConnectorListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewConnectorListCommand returns the connector list command.
func NewConnectorListCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *ConnectorListCommand {
	c := &ConnectorListCommand{rootCmd: rootCmd}
	c.Cmd = parent.Command("list", "List the user connectors.")
	return c
}

func (c ConnectorListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ConnectorListCommand) Run(ctx context.Context) error {
	s, err := newStack(ctx, c.rootCmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	conns, err := s.connectors.List(ctx, c.rootCmd.UserID)
	if err != nil {
		return fmt.Errorf("could not list connectors: %w", err)
	}
	if len(conns) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(c.rootCmd.Stdout, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "NAME\tTYPE\tTARGET")
	for _, conn := range conns {
		target := conn.URL
		if conn.Type == model.ConnectorTypeLocal {
			target = strings.TrimSpace(conn.Command + " " + strings.Join(conn.Args, " "))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", conn.Name, conn.Type, target)
	}

	return nil
}

type ConnectorRmCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	name string
}

// NewConnectorRmCommand returns the connector rm command.
func NewConnectorRmCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *ConnectorRmCommand {
	c := &ConnectorRmCommand{rootCmd: rootCmd}
	c.Cmd = parent.Command("rm", "Remove a connector.")
	c.Cmd.Arg("name", "Connector name.").Required().StringVar(&c.name)
	return c
}

func (c ConnectorRmCommand) Name() string { return c.Cmd.FullCommand() }

func (c ConnectorRmCommand) Run(ctx context.Context) error {
	s, err := newStack(ctx, c.rootCmd, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.connectors.Delete(ctx, c.rootCmd.UserID, c.name); err != nil {
		return fmt.Errorf("could not remove connector: %w", err)
	}

	return printer.NewTablePrinter(c.rootCmd.Stdout).PrintMessage(fmt.Sprintf("Connector %s removed", c.name))
}
