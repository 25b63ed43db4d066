package agent_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/agent"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage/memory"
	"github.com/slok/agentbox/internal/storage/storagetest"
)

func TestStreamSink(t *testing.T) {
	tests := map[string]struct {
		writes      []string
		parser      agent.LineParser
		expResponse string
		expOutput   string
		expSession  string
		expDone     bool
	}{
		"Lines split across writes should be joined.": {
			writes:      []string{"text:hel", "lo\ntext:wor", "ld\n"},
			parser:      testParser,
			expResponse: "hello\n\nworld",
			expOutput:   "text:hello\ntext:world",
		},

		"Blank lines and carriage returns should be ignored.": {
			writes:      []string{"text:a\r\n\n  \ntext:b\n"},
			parser:      testParser,
			expResponse: "a\n\nb",
			expOutput:   "text:a\ntext:b",
		},

		"The terminal event should flag completion.": {
			writes:      []string{"session:s-9\n", "final:result\n"},
			parser:      testParser,
			expResponse: "result",
			expOutput:   "session:s-9\nfinal:result",
			expSession:  "s-9",
			expDone:     true,
		},

		"Without parser every line should be response text.": {
			writes:      []string{"line one\nline two\n"},
			expResponse: "line one\nline two",
			expOutput:   "line one\nline two",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()

			repo, err := memory.NewRepository(memory.RepositoryConfig{})
			require.NoError(err)
			require.NoError(repo.CreateTask(ctx, storagetest.TaskFixture("task-1", "user-1")))
			require.NoError(repo.CreateMessage(ctx, model.Message{ID: "msg-1", TaskID: "task-1", Role: model.MessageRoleAgent}))

			sink := agent.NewStreamSink(ctx, agent.StreamSinkConfig{
				Parser:    test.parser,
				Messages:  repo,
				MessageID: "msg-1",
			})
			for _, w := range test.writes {
				n, err := sink.Write([]byte(w))
				require.NoError(err)
				assert.Equal(len(w), n)
			}
			sink.Flush()

			assert.Equal(test.expResponse, sink.Response())
			assert.Equal(test.expOutput, sink.Output())
			assert.Equal(test.expSession, sink.SessionID())
			assert.Equal(test.expDone, sink.Done())

			msgs, err := repo.ListMessages(ctx, "task-1")
			require.NoError(err)
			require.Len(msgs, 1)
			assert.Equal(sink.Streamed(), msgs[0].Content)
		})
	}
}
