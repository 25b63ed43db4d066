package gitpub_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/gitpub"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/sandbox/fake"
)

func TestLocalChanges(t *testing.T) {
	tests := map[string]struct {
		mock       func(e *fake.Engine)
		expChanges []model.FileChange
		expBase    string
		expErr     bool
	}{
		"Changes against the fork point should be returned.": {
			mock: func(e *fake.Engine) {
				e.On("git merge-base", fake.Response{Stdout: "abc123\n"})
				e.On("git diff --name-status", fake.Response{Stdout: "M\x00main.go\x00D\x00old.go\x00R087\x00a.go\x00pkg/b.go\x00A\x00README.md\x00"})
				e.On("git diff --numstat", fake.Response{Stdout: "2\t1\tmain.go\x000\t7\told.go\x001\t1\t\x00a.go\x00pkg/b.go\x0010\t0\tREADME.md\x00"})
				e.On("git ls-files", fake.Response{Stdout: "notes.txt\x00"})
				e.On("wc -l -- notes.txt", fake.Response{Stdout: "4 notes.txt\n"})
			},
			expBase: "abc123",
			expChanges: []model.FileChange{
				{Filename: "README.md", Status: model.FileStatusAdded, Additions: 10, Changes: 10},
				{Filename: "main.go", Status: model.FileStatusModified, Additions: 2, Deletions: 1, Changes: 3},
				{Filename: "notes.txt", Status: model.FileStatusAdded, Additions: 4, Changes: 4},
				{Filename: "old.go", Status: model.FileStatusDeleted, Deletions: 7, Changes: 7},
				{Filename: "pkg/b.go", Status: model.FileStatusRenamed, Additions: 1, Deletions: 1, Changes: 2},
			},
		},

		"Untracked files with a leading dash should be counted as files.": {
			mock: func(e *fake.Engine) {
				e.On("git merge-base", fake.Response{Stdout: "abc123\n"})
				e.On("git diff --name-status", fake.Response{})
				e.On("git diff --numstat", fake.Response{})
				e.On("git ls-files", fake.Response{Stdout: "-n.txt\x00"})
				e.On("wc -l -- -n.txt", fake.Response{Stdout: "3 -n.txt\n"})
			},
			expBase: "abc123",
			expChanges: []model.FileChange{
				{Filename: "-n.txt", Status: model.FileStatusAdded, Additions: 3, Changes: 3},
			},
		},

		"Without remote default branch the head should be used.": {
			mock: func(e *fake.Engine) {
				e.On("git merge-base", fake.Response{ExitCode: 128})
				e.On("git diff --name-status", fake.Response{Stdout: "M\x00main.go\x00"})
				e.On("git diff --numstat", fake.Response{Stdout: "-\t-\tmain.go\x00"})
			},
			expBase: "HEAD",
			expChanges: []model.FileChange{
				{Filename: "main.go", Status: model.FileStatusModified},
			},
		},

		"A failed diff should fail.": {
			mock: func(e *fake.Engine) {
				e.On("git diff", fake.Response{ExitCode: 128})
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			eng, sb := newTestSandbox(t)
			test.mock(eng)

			changes, err := gitpub.LocalChanges(context.Background(), sb)
			if test.expErr {
				assert.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(test.expChanges, changes)

			for _, c := range eng.Calls(sb.ID()) {
				if len(c.Command) > 2 && c.Command[1] == "diff" {
					assert.Equal(test.expBase, c.Command[len(c.Command)-1])
				}
			}
		})
	}
}
