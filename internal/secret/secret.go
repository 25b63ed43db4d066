// Package secret seals connector credentials at rest with age x25519 keys.
package secret

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"

	"github.com/slok/agentbox/internal/model"
)

// Cipher seals and opens data with a single age identity.
type Cipher struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewCipher returns a cipher for an age identity in AGE-SECRET-KEY-1... format.
func NewCipher(identity string) (*Cipher, error) {
	id, err := age.ParseX25519Identity(strings.TrimSpace(identity))
	if err != nil {
		return nil, fmt.Errorf("invalid age identity: %w", model.ErrMissingConfig)
	}

	return &Cipher{identity: id, recipient: id.Recipient()}, nil
}

// GenerateIdentity generates a new age identity.
func GenerateIdentity() (string, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generating age identity: %w", err)
	}
	return id.String(), nil
}

// Recipient returns the public key of the cipher identity.
func (c *Cipher) Recipient() string { return c.recipient.String() }

// Seal encrypts plaintext to the cipher identity.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}

	return buf.Bytes(), nil
}

// Open decrypts data sealed to the cipher identity.
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(sealed), c.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}

// SealSecrets seals connector credentials.
func (c *Cipher) SealSecrets(s model.ConnectorSecrets) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("could not marshal connector secrets: %w", err)
	}
	return c.Seal(data)
}

// OpenSecrets opens sealed connector credentials, empty data returns empty secrets.
func (c *Cipher) OpenSecrets(sealed []byte) (model.ConnectorSecrets, error) {
	if len(sealed) == 0 {
		return model.ConnectorSecrets{}, nil
	}

	data, err := c.Open(sealed)
	if err != nil {
		return model.ConnectorSecrets{}, err
	}

	var s model.ConnectorSecrets
	if err := json.Unmarshal(data, &s); err != nil {
		return model.ConnectorSecrets{}, fmt.Errorf("could not unmarshal connector secrets: %w", err)
	}
	return s, nil
}
