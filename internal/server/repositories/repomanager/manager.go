package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/fleetkeeper/internal/dbx"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/devices"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/groups"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/payloads"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/versions"
)

// RepositoryManager vends repositories bound to a DBTX, so services can use
// the same repositories on the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Devices(db dbx.DBTX) devices.Repository
	Groups(db dbx.DBTX) groups.Repository
	Versions(db dbx.DBTX) versions.Repository
	Payloads(db dbx.DBTX) payloads.Repository
}
