// Package vault implements the credential-store connector contract on
// BadgerDB. Secrets are hashed with bcrypt before they touch disk; the
// cleartext never leaves the process.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/fedid/fedid/pkg/connector"
)

const prefixCredential = "cred:"

// keyCredential generates the key for a credential partition: "cred:<id>"
func keyCredential(id string) []byte {
	return []byte(prefixCredential + id)
}

// storedCredential is the at-rest form of one credential.
type storedCredential struct {
	Type string `json:"type"`
	Hash []byte `json:"hash"`
}

// CredentialConnector stores password credentials in a local Badger
// database. Safe for concurrent use.
type CredentialConnector struct {
	id   string
	db   *badger.DB
	cost int
}

// Option configures a CredentialConnector.
type Option func(*CredentialConnector)

// WithBcryptCost overrides the bcrypt cost. Useful in tests where
// bcrypt.MinCost keeps hashing cheap.
func WithBcryptCost(cost int) Option {
	return func(c *CredentialConnector) { c.cost = cost }
}

// New opens (or creates) the Badger database at dir.
func New(id, dir string, opts ...Option) (*CredentialConnector, error) {
	if id == "" {
		return nil, fmt.Errorf("connector ID is required")
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open credential vault: %w", err)
	}

	c := &CredentialConnector{id: id, db: db, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ID returns the connector ID.
func (c *CredentialConnector) ID() string { return c.id }

// Close closes the underlying database.
func (c *CredentialConnector) Close() error { return c.db.Close() }

// CanStore reports whether the connector can persist the credential.
func (c *CredentialConnector) CanStore(cred connector.Credential) bool {
	return cred != nil && cred.Type() == connector.TypePassword
}

// CanHandle reports whether the connector can verify the bundle.
func (c *CredentialConnector) CanHandle(bundle connector.Bundle) bool {
	return c.CanStore(bundle.Credential) && bundle.UserID() != ""
}

// AddCredential hashes and persists the credentials as one partition.
func (c *CredentialConnector) AddCredential(ctx context.Context, creds []connector.Credential) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	stored, err := c.hashAll(creds)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	err = c.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		return txn.Set(keyCredential(id), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store credential partition: %w", err)
	}
	return id, nil
}

// UpdateCredentials replaces the partition's credentials. The partition keeps
// its ID.
// Returns connector.ErrCredentialNotFound if the partition does not exist.
func (c *CredentialConnector) UpdateCredentials(ctx context.Context, credentialID string, creds []connector.Credential) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	stored, err := c.hashAll(creds)
	if err != nil {
		return "", err
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyCredential(credentialID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return connector.ErrCredentialNotFound
			}
			return err
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		return txn.Set(keyCredential(credentialID), data)
	})
	if err != nil {
		return "", err
	}
	return credentialID, nil
}

// Authenticate verifies the bundle against the stored partition. Every
// failure collapses to connector.ErrAuthenticationFailure.
func (c *CredentialConnector) Authenticate(ctx context.Context, bundle connector.Bundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.CanHandle(bundle) {
		return connector.ErrAuthenticationFailure
	}
	pw, ok := bundle.Credential.(connector.PasswordCredential)
	if !ok {
		return connector.ErrAuthenticationFailure
	}

	var stored []storedCredential
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyCredential(bundle.UserID()))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if err != nil {
		return connector.ErrAuthenticationFailure
	}

	for _, s := range stored {
		if s.Type != connector.TypePassword {
			continue
		}
		if bcrypt.CompareHashAndPassword(s.Hash, []byte(pw.Password)) == nil {
			return nil
		}
	}
	return connector.ErrAuthenticationFailure
}

// DeleteCredential removes the partition. Idempotent.
func (c *CredentialConnector) DeleteCredential(ctx context.Context, credentialID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyCredential(credentialID))
	})
}

func (c *CredentialConnector) hashAll(creds []connector.Credential) ([]storedCredential, error) {
	stored := make([]storedCredential, 0, len(creds))
	for _, cred := range creds {
		pw, ok := cred.(connector.PasswordCredential)
		if !ok {
			return nil, connector.ErrUnsupportedCredentialType
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pw.Password), c.cost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash credential: %w", err)
		}
		stored = append(stored, storedCredential{Type: cred.Type(), Hash: hash})
	}
	return stored, nil
}

var _ connector.CredentialStoreConnector = (*CredentialConnector)(nil)
