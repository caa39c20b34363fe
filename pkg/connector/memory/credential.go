package memory

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/fedid/fedid/pkg/connector"
)

// CredentialConnector is an in-memory credential-store connector for password
// credentials. Passwords are bcrypt-hashed at rest even here; the store never
// holds cleartext.
type CredentialConnector struct {
	id   string
	cost int

	mu     sync.RWMutex
	seq    int
	hashes map[string][][]byte
}

var _ connector.CredentialStoreConnector = (*CredentialConnector)(nil)

// NewCredentialConnector creates an empty in-memory credential connector
// hashing with bcrypt.DefaultCost.
func NewCredentialConnector(id string) *CredentialConnector {
	return &CredentialConnector{
		id:     id,
		cost:   bcrypt.DefaultCost,
		hashes: make(map[string][][]byte),
	}
}

// ID returns the connector ID.
func (c *CredentialConnector) ID() string { return c.id }

// CanStore reports whether the credential is a password.
func (c *CredentialConnector) CanStore(cred connector.Credential) bool {
	return cred != nil && cred.Type() == connector.TypePassword
}

// CanHandle reports whether the bundle carries a password credential with a
// partition ID to verify against.
func (c *CredentialConnector) CanHandle(bundle connector.Bundle) bool {
	return c.CanStore(bundle.Credential) && bundle.UserID() != ""
}

// AddCredential hashes and stores the passwords as one partition.
func (c *CredentialConnector) AddCredential(_ context.Context, creds []connector.Credential) (string, error) {
	hashes, err := c.hashAll(creds)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	id := fmt.Sprintf("%s-c-%d", c.id, c.seq)
	c.hashes[id] = hashes
	return id, nil
}

// UpdateCredentials replaces the partition's hashes in place.
func (c *CredentialConnector) UpdateCredentials(_ context.Context, credentialID string, creds []connector.Credential) (string, error) {
	hashes, err := c.hashAll(creds)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.hashes[credentialID]; !ok {
		return "", connector.ErrCredentialNotFound
	}
	c.hashes[credentialID] = hashes
	return credentialID, nil
}

// Authenticate verifies the bundle's password against the partition named by
// its MetaUserID metadata. Every failure mode collapses into
// ErrAuthenticationFailure.
func (c *CredentialConnector) Authenticate(_ context.Context, bundle connector.Bundle) error {
	pw, ok := bundle.Credential.(connector.PasswordCredential)
	if !ok {
		return connector.ErrAuthenticationFailure
	}

	c.mu.RLock()
	hashes, found := c.hashes[bundle.UserID()]
	c.mu.RUnlock()

	if !found {
		return connector.ErrAuthenticationFailure
	}
	for _, hash := range hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(pw.Password)) == nil {
			return nil
		}
	}
	return connector.ErrAuthenticationFailure
}

// DeleteCredential removes the partition. Idempotent.
func (c *CredentialConnector) DeleteCredential(_ context.Context, credentialID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.hashes, credentialID)
	return nil
}

func (c *CredentialConnector) hashAll(creds []connector.Credential) ([][]byte, error) {
	hashes := make([][]byte, 0, len(creds))
	for _, cred := range creds {
		pw, ok := cred.(connector.PasswordCredential)
		if !ok {
			return nil, fmt.Errorf("%w: %s", connector.ErrUnsupportedCredentialType, cred.Type())
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pw.Password), c.cost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}
