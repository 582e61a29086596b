package facade

import (
	"context"
	"strings"

	"github.com/sqlopt/engine/internal/apperrors"
	"github.com/sqlopt/engine/internal/model"
)

// CreateConnectionRequest is Connection.create's input (spec §6.1).
type CreateConnectionRequest struct {
	DisplayName       string
	Engine            string
	Host              string
	Port              int
	Database          string
	Username          string
	Password          string
	MonitoringEnabled bool
}

// CreateConnection tests connectivity with the supplied credentials before
// persisting anything, per spec §6.1 "persists after a successful test()".
func (f *Facade) CreateConnection(ctx context.Context, req CreateConnectionRequest) (*model.Connection, error) {
	engine, ok := model.ParseEngine(strings.ToUpper(req.Engine))
	if !ok {
		return nil, apperrors.NewInput("unknown engine %q", req.Engine)
	}
	gw, ok := f.gateways[engine]
	if !ok {
		return nil, apperrors.NewCapability("no gateway registered for engine %s", engine)
	}

	conn := &model.Connection{
		DisplayName:       req.DisplayName,
		Engine:            engine,
		Host:              req.Host,
		Port:              req.Port,
		Database:          req.Database,
		Username:          req.Username,
		MonitoringEnabled: req.MonitoringEnabled,
	}

	if err := f.testCredentials(ctx, gw, conn, req.Password); err != nil {
		return nil, err
	}

	encrypted, err := f.secrets.Encrypt(req.Password)
	if err != nil {
		return nil, apperrors.WrapFatal(err, "encrypt connection password")
	}
	conn.EncryptedPassword = encrypted

	id, err := f.store.CreateConnection(ctx, conn)
	if err != nil {
		return nil, err
	}
	conn.ID = id
	return conn, nil
}

// testCredentials opens a throwaway gateway session against creds and
// closes it unconditionally, regardless of the test outcome, so a failed
// test never leaks a pooled session under connectionID 0.
func (f *Facade) testCredentials(ctx context.Context, gw gatewayOpener, conn *model.Connection, password string) error {
	creds := model.DecryptedCredentials{Host: conn.Host, Port: conn.Port, Database: conn.Database, Username: conn.Username, Password: password}
	if err := gw.Open(ctx, conn, creds); err != nil {
		return apperrors.WrapUpstream(err, "open connection for test")
	}
	defer gw.Close(ctx, conn.ID)
	return gw.TestConnection(ctx, conn.ID)
}

// ListConnections returns every non-deleted connection.
func (f *Facade) ListConnections(ctx context.Context) ([]*model.Connection, error) {
	return f.store.ListConnections(ctx)
}

// GetConnection fetches one connection by id.
func (f *Facade) GetConnection(ctx context.Context, id int64) (*model.Connection, error) {
	return f.store.GetConnection(ctx, id)
}

// UpdateConnectionRequest is Connection.update's input. Password is a
// pointer so callers can omit it to leave the stored credential unchanged;
// a non-nil Password re-tests and re-encrypts it.
type UpdateConnectionRequest struct {
	ID                int64
	DisplayName       string
	Host              string
	Port              int
	Database          string
	Username          string
	Password          *string
	TLSEnabled        bool
	MonitoringEnabled bool
}

// UpdateConnection overwrites a connection's mutable fields, re-testing
// connectivity whenever the caller supplies a new password.
func (f *Facade) UpdateConnection(ctx context.Context, req UpdateConnectionRequest) (*model.Connection, error) {
	conn, err := f.store.GetConnection(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	conn.DisplayName = req.DisplayName
	conn.Host = req.Host
	conn.Port = req.Port
	conn.Database = req.Database
	conn.Username = req.Username
	conn.TLSEnabled = req.TLSEnabled
	conn.MonitoringEnabled = req.MonitoringEnabled

	if req.Password != nil {
		gw, ok := f.gateways[conn.Engine]
		if !ok {
			return nil, apperrors.NewCapability("no gateway registered for engine %s", conn.Engine)
		}
		if err := f.testCredentials(ctx, gw, conn, *req.Password); err != nil {
			return nil, err
		}
		encrypted, err := f.secrets.Encrypt(*req.Password)
		if err != nil {
			return nil, apperrors.WrapFatal(err, "encrypt connection password")
		}
		conn.EncryptedPassword = encrypted
	}

	if err := f.store.UpdateConnection(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// DeleteConnection soft-deletes a connection and its dependent rows.
func (f *Facade) DeleteConnection(ctx context.Context, id int64) error {
	return f.store.DeleteConnection(ctx, id)
}

// TestConnection re-runs connectivity test against a connection's stored
// (decrypted) credentials.
func (f *Facade) TestConnection(ctx context.Context, id int64) error {
	conn, err := f.store.GetConnection(ctx, id)
	if err != nil {
		return err
	}
	gw, ok := f.gateways[conn.Engine]
	if !ok {
		return apperrors.NewCapability("no gateway registered for engine %s", conn.Engine)
	}
	password, err := f.secrets.Decrypt(conn.EncryptedPassword)
	if err != nil {
		return apperrors.WrapFatal(err, "decrypt connection %d password", id)
	}
	return f.testCredentials(ctx, gw, conn, password)
}

// gatewayOpener is the narrow slice of gateway.Gateway CreateConnection/
// UpdateConnection/TestConnection need, so this file doesn't import
// internal/gateway just to name the parameter type in testCredentials.
type gatewayOpener interface {
	Open(ctx context.Context, conn *model.Connection, creds model.DecryptedCredentials) error
	TestConnection(ctx context.Context, connectionID int64) error
	Close(ctx context.Context, connectionID int64) error
}
