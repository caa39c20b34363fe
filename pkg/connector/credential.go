package connector

// Well-known metadata keys in a credential Bundle.
const (
	// MetaUserID carries the connector-local user ID the credential
	// partition is stored under.
	MetaUserID = "userId"
)

// Credential type discriminators.
const (
	TypePassword = "password"
)

// Credential is a secret a subject presents to authenticate. Implementations
// are plain value carriers; hashing and verification belong to the
// credential-store connector.
type Credential interface {
	// Type returns the credential type discriminator (TypePassword, ...).
	Type() string
}

// PasswordCredential is a cleartext password in transit. It is never stored
// as-is; connectors hash it at rest.
type PasswordCredential struct {
	Password string
}

// Type implements Credential.
func (PasswordCredential) Type() string { return TypePassword }

// Bundle pairs a presented credential with routing metadata. The
// authentication path builds one per credential partition, placing the
// connector-local user ID under MetaUserID.
type Bundle struct {
	Credential Credential
	Metadata   map[string]string
}

// UserID returns the connector-local user ID from the bundle metadata, or ""
// if absent.
func (b Bundle) UserID() string {
	return b.Metadata[MetaUserID]
}

// PartitionCredentials assigns each credential to the first connector whose
// CanStore accepts it. Credentials no connector claims are dropped. Pure; no
// I/O.
func PartitionCredentials(creds []Credential, connectors []CredentialStoreConnector) map[string][]Credential {
	partitions := make(map[string][]Credential)
	for _, cred := range creds {
		for _, conn := range connectors {
			if conn.CanStore(cred) {
				partitions[conn.ID()] = append(partitions[conn.ID()], cred)
				break
			}
		}
	}
	return partitions
}
