package commands

import (
	"context"
	"io"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/printer"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"
)

const (
	// StoreSQLite persists the records in a SQLite file.
	StoreSQLite = "sqlite"
	// StoreMemory keeps the records in memory, they are lost on exit.
	StoreMemory = "memory"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug       bool
	NoLog       bool
	NoColor     bool
	LoggerType  string
	DBPath      string
	Store       string
	ConfigPath  string
	UserID      string
	GitHubToken string
	AgeIdentity string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDBPath := filepath.Join(homedir.HomeDir(), ".agentbox", "agentbox.db")
	app.Flag("db-path", "Path to the SQLite database file.").Default(defaultDBPath).StringVar(&c.DBPath)
	app.Flag("store", "Record store type.").Default(StoreSQLite).EnumVar(&c.Store, StoreSQLite, StoreMemory)
	app.Flag("config", "Path to the YAML settings file (optional).").StringVar(&c.ConfigPath)
	app.Flag("user", "User that owns the tasks created and read from the CLI.").Default("local").StringVar(&c.UserID)
	app.Flag("github-token", "GitHub token used to clone, push and compare branches.").Envar("GITHUB_TOKEN").StringVar(&c.GitHubToken)
	app.Flag("age-identity", "age X25519 identity that encrypts the connector credentials.").StringVar(&c.AgeIdentity)

	return c
}

// newPrinter returns the printer of an output format.
func newPrinter(format string, root *RootCommand) printer.Printer {
	switch format {
	case "json":
		return printer.NewJSONPrinter(root.Stdout)
	default: // table
		return printer.NewTablePrinter(root.Stdout)
	}
}
