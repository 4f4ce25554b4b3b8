// Package memory implements every repository over in-process maps. The
// handles ignore the DBTX they are bound to, so all of them share one
// Store. Writes made inside dbx.WithTx are journaled and undone when that
// transaction rolls back.
package memory

import (
	"context"
	"database/sql"
	"sync"

	"github.com/dmitrijs2005/fleetkeeper/internal/dbx"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/devices"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/groups"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/payloads"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/versions"
)

// Store holds all tables.
type Store struct {
	mu sync.Mutex

	users         map[string]*models.User
	refreshTokens map[string]*models.RefreshToken
	payloads      map[string]*models.Payload
	devices       map[string]*models.Device
	groups        map[string]*models.DeviceGroup
	members       map[string]map[string]struct{}
	versions      map[string]*models.Version

	failures map[string]error
	seq      int
}

func NewStore() *Store {
	return &Store{
		users:         map[string]*models.User{},
		refreshTokens: map[string]*models.RefreshToken{},
		payloads:      map[string]*models.Payload{},
		devices:       map[string]*models.Device{},
		groups:        map[string]*models.DeviceGroup{},
		members:       map[string]map[string]struct{}{},
		versions:      map[string]*models.Version{},
		failures:      map[string]error{},
	}
}

// FailOn makes the operation op ("versions.Create", "devices.SetCurrent",
// ...) return err when called with key as its first id argument. An empty
// key matches every call.
func (s *Store) FailOn(op, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op+"|"+key] = err
}

// fail must be called with s.mu held.
func (s *Store) fail(op, key string) error {
	if err, ok := s.failures[op+"|"+key]; ok {
		return err
	}
	return s.failures[op+"|"]
}

// undo registers restore to run under s.mu if the transaction carried by
// ctx rolls back. Writes outside a transaction are final.
func (s *Store) undo(ctx context.Context, restore func()) {
	dbx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		restore()
	})
}

// Manager satisfies repomanager.RepositoryManager.
type Manager struct {
	Store *Store
}

func NewManager() *Manager {
	return &Manager{Store: NewStore()}
}

func (m *Manager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *Manager) Users(dbx.DBTX) users.Repository                 { return userRepo{m.Store} }
func (m *Manager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return refreshTokenRepo{m.Store} }
func (m *Manager) Devices(dbx.DBTX) devices.Repository             { return deviceRepo{m.Store} }
func (m *Manager) Groups(dbx.DBTX) groups.Repository               { return groupRepo{m.Store} }
func (m *Manager) Versions(dbx.DBTX) versions.Repository           { return versionRepo{m.Store} }
func (m *Manager) Payloads(dbx.DBTX) payloads.Repository           { return payloadRepo{m.Store} }
