package secret_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/secret"
)

func newCipher(t *testing.T) *secret.Cipher {
	t.Helper()
	id, err := secret.GenerateIdentity()
	require.NoError(t, err)
	c, err := secret.NewCipher(id)
	require.NoError(t, err)
	return c
}

func TestCipherSecrets(t *testing.T) {
	tests := map[string]struct {
		secrets model.ConnectorSecrets
	}{
		"Local connector env should be sealed and opened.": {
			secrets: model.ConnectorSecrets{Env: map[string]string{"API_TOKEN": "s3cr3t"}},
		},
		"Remote connector headers should be sealed and opened.": {
			secrets: model.ConnectorSecrets{Headers: map[string]string{"Authorization": "Bearer abc"}},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			c := newCipher(t)

			sealed, err := c.SealSecrets(test.secrets)
			require.NoError(err)
			assert.NotContains(string(sealed), "s3cr3t")
			assert.NotContains(string(sealed), "Bearer abc")

			got, err := c.OpenSecrets(sealed)
			require.NoError(err)
			assert.Equal(test.secrets, got)
		})
	}
}

func TestCipherOpenWithAnotherIdentity(t *testing.T) {
	sealed, err := newCipher(t).Seal([]byte("hello"))
	require.NoError(t, err)

	_, err = newCipher(t).Open(sealed)
	assert.Error(t, err)
}

func TestCipherOpenEmptySecrets(t *testing.T) {
	got, err := newCipher(t).OpenSecrets(nil)
	require.NoError(t, err)
	assert.Equal(t, model.ConnectorSecrets{}, got)
}

func TestNewCipherInvalidIdentity(t *testing.T) {
	_, err := secret.NewCipher("not-an-identity")
	assert.True(t, errors.Is(err, model.ErrMissingConfig))
}
