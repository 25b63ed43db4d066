// Package tasklogtest has task logger helpers for tests.
package tasklogtest

import (
	"context"
	"strings"
	"sync"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/redact"
	"github.com/slok/agentbox/internal/tasklog"
)

// Entry is a recorded task logger call.
type Entry struct {
	Type     model.LogType
	Message  string
	Progress int
	Status   model.TaskStatus
}

// Recorder is a tasklog.TaskLogger that keeps the redacted calls in memory.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

var _ tasklog.TaskLogger = &Recorder{}

func (r *Recorder) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Message = redact.String(e.Message)
	r.entries = append(r.entries, e)
}

func (r *Recorder) Info(_ context.Context, msg string) {
	r.add(Entry{Type: model.LogTypeInfo, Message: msg})
}

func (r *Recorder) Command(_ context.Context, msg string) {
	r.add(Entry{Type: model.LogTypeCommand, Message: msg})
}

func (r *Recorder) Error(_ context.Context, msg string) {
	r.add(Entry{Type: model.LogTypeError, Message: msg})
}

func (r *Recorder) Success(_ context.Context, msg string) {
	r.add(Entry{Type: model.LogTypeSuccess, Message: msg})
}

func (r *Recorder) UpdateProgress(_ context.Context, p int, msg string) {
	r.add(Entry{Type: model.LogTypeInfo, Message: msg, Progress: p})
}

func (r *Recorder) UpdateStatus(_ context.Context, s model.TaskStatus, msg string) {
	r.add(Entry{Type: model.LogTypeInfo, Message: msg, Status: s})
}

func (r *Recorder) Fail(_ context.Context, msg string) {
	r.add(Entry{Type: model.LogTypeError, Message: msg, Status: model.TaskStatusError})
}

// Entries returns the recorded calls in order.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry{}, r.entries...)
}

// Messages returns the messages of the recorded calls of a type, all if typ is empty.
func (r *Recorder) Messages(typ model.LogType) []string {
	var msgs []string
	for _, e := range r.Entries() {
		if typ == "" || e.Type == typ {
			msgs = append(msgs, e.Message)
		}
	}
	return msgs
}

// Contains returns true if any recorded message contains s.
func (r *Recorder) Contains(s string) bool {
	for _, m := range r.Messages("") {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}
