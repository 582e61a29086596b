package model

import "time"

// Connection is a target database the system monitors (spec §3 "Connection").
//
// Invariants enforced by the store: (Engine, Host, Port, Database, Username)
// is unique among non-deleted rows. EncryptedPassword never leaves the
// process as plaintext except through a single DecryptedCredentials value
// that callers must not persist.
type Connection struct {
	ID                 int64
	DisplayName        string
	Engine             Engine
	Host               string
	Port               int
	Database           string
	Username           string
	EncryptedPassword  []byte
	TLSEnabled         bool
	MonitoringEnabled  bool
	CreatedAt          time.Time
	DeletedAt          *time.Time
}

// IsDeleted reports whether the connection has been soft-deleted.
func (c *Connection) IsDeleted() bool { return c.DeletedAt != nil }

// DecryptedCredentials is the one place plaintext credentials may live in
// memory. Callers must not persist it; it exists only to be handed to a
// gateway session's Open call.
type DecryptedCredentials struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}
