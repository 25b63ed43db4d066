package agent

import (
	"bytes"
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/slok/agentbox/internal/command"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/redact"
	"github.com/slok/agentbox/internal/sandbox"
)

// DefaultPollInterval is how often a streaming run checks for completion.
const DefaultPollInterval = time.Second

// exitGracePolls is the number of poll intervals a completed run has to exit before
// it is stopped.
const exitGracePolls = 5

// Event is what a CLI output line means to the sink.
type Event struct {
	// Text is agent response text carried by the line.
	Text string
	// Delta marks Text as a continuation of the previous text instead of a new block.
	Delta bool
	// Final is the complete agent response, it replaces the streamed text.
	Final     string
	SessionID string
	// Err is the failure reported by the CLI.
	Err string
	// Done is set by the terminal event of the stream.
	Done bool
}

// LineParser translates a single redacted CLI output line into an event.
type LineParser func(line string) Event

// PlainText is the parser of CLIs without structured output, every line is response text.
func PlainText(line string) Event {
	return Event{Text: line + "\n", Delta: true}
}

// StreamSinkConfig is the configuration of the stream sink.
type StreamSinkConfig struct {
	Parser LineParser
	// Messages receives the text deltas of MessageID (optional).
	Messages  MessageSink
	MessageID string
	Logger    log.Logger
}

func (c *StreamSinkConfig) defaults() {
	if c.Parser == nil {
		c.Parser = PlainText
	}
	if c.MessageID == "" {
		c.Messages = nil
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "agent.StreamSink"})
}

// StreamSink is an io.Writer attached to the CLI stdout. It splits the stream in lines,
// redacts them, and keeps the agent response, session and completion state.
// Text deltas are appended to the target message as they arrive.
type StreamSink struct {
	ctx       context.Context
	parser    LineParser
	messages  MessageSink
	messageID string
	logger    log.Logger

	mu        sync.Mutex
	buf       []byte
	lines     []string
	text      strings.Builder
	final     string
	sessionID string
	errMsg    string
	done      bool
}

// NewStreamSink returns a new stream sink, ctx is used for the message store writes.
func NewStreamSink(ctx context.Context, cfg StreamSinkConfig) *StreamSink {
	cfg.defaults()
	return &StreamSink{
		ctx:       ctx,
		parser:    cfg.Parser,
		messages:  cfg.Messages,
		messageID: cfg.MessageID,
		logger:    cfg.Logger,
	}
}

// Write implements io.Writer, it never fails.
func (s *StreamSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, p...)
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		line := string(s.buf[:i])
		s.buf = s.buf[i+1:]
		s.handleLine(line)
	}

	return len(p), nil
}

// Flush handles the pending partial line.
func (s *StreamSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) > 0 {
		line := string(s.buf)
		s.buf = nil
		s.handleLine(line)
	}
}

func (s *StreamSink) handleLine(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	line = redact.String(line)
	s.lines = append(s.lines, line)

	ev := s.parser(line)
	if ev.SessionID != "" {
		s.sessionID = ev.SessionID
	}
	if ev.Text != "" {
		delta := ev.Text
		if !ev.Delta && s.text.Len() > 0 {
			delta = "\n\n" + delta
		}
		s.text.WriteString(delta)
		s.persist(delta)
	}
	if ev.Final != "" {
		s.final = ev.Final
	}
	if ev.Err != "" {
		s.errMsg = ev.Err
	}
	if ev.Done {
		s.done = true
	}
}

func (s *StreamSink) persist(delta string) {
	if s.messages == nil {
		return
	}
	if err := s.messages.AppendMessageContent(s.ctx, s.messageID, delta); err != nil {
		s.logger.Warningf("could not append agent output to message %s: %s", s.messageID, redact.Error(err))
	}
}

// Done returns true once the terminal event of the stream was received.
func (s *StreamSink) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// SessionID returns the last agent session id seen on the stream.
func (s *StreamSink) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Err returns the failure reported by the CLI, if any.
func (s *StreamSink) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Streamed returns the text that was streamed so far.
func (s *StreamSink) Streamed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Response returns the agent response, the final one when the CLI reported it.
func (s *StreamSink) Response() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final != "" {
		return s.final
	}
	return strings.TrimSpace(s.text.String())
}

// Output returns all the redacted lines seen.
func (s *StreamSink) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.lines, "\n")
}

// StreamResult is the outcome of a streaming run.
type StreamResult struct {
	ExitCode int
	// Completed is true when the sink received the terminal event.
	Completed bool
	// Stderr is the redacted process stderr.
	Stderr string
}

// RunStreaming runs the command in the background with its stdout attached to the sink.
// It returns when the sink is completed, the process exits, or ctx is done, whatever
// happens first. Completion is checked every pollInterval. A completed process that
// doesn't exit within the grace period is stopped, so the process is never running
// once RunStreaming returns.
func RunStreaming(ctx context.Context, sb sandbox.Sandbox, cmd []string, env map[string]string, sink *StreamSink, pollInterval time.Duration) (*StreamResult, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	type execOut struct {
		res *model.ExecResult
		err error
	}
	execCtx, cancelExec := context.WithCancel(ctx)
	defer cancelExec()

	stderr := &syncBuffer{}
	outC := make(chan execOut, 1)
	go func() {
		res, err := sb.Exec(execCtx, cmd, model.ExecOpts{
			WorkingDir: sandbox.WorkDir,
			Env:        env,
			Stdout:     sink,
			Stderr:     stderr,
		})
		outC <- execOut{res: res, err: err}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case out := <-outC:
			sink.Flush()
			if out.err != nil {
				return nil, out.err
			}
			return &StreamResult{
				ExitCode:  out.res.ExitCode,
				Completed: sink.Done(),
				Stderr:    redact.String(stderr.String()),
			}, nil
		case <-ticker.C:
			if !sink.Done() {
				continue
			}

			res := &StreamResult{Completed: true}
			grace := time.NewTimer(exitGracePolls * pollInterval)
			select {
			case out := <-outC:
				if out.err == nil && out.res != nil {
					res.ExitCode = out.res.ExitCode
				}
			case <-grace.C:
				cancelExec()
				<-outC
				stopProcess(ctx, sb, cmd[0])
			}
			grace.Stop()

			sink.Flush()
			res.Stderr = redact.String(stderr.String())
			return res, nil
		}
	}
}

// stopProcess kills the process a cancelled exec left running in the sandbox, best effort.
func stopProcess(ctx context.Context, sb sandbox.Sandbox, executable string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	_ = command.Run(ctx, sb, "pkill", "-x", path.Base(executable))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
