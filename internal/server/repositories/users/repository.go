// Package users stores registered principals.
package users

import (
	"context"

	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
)

type Repository interface {
	// Create inserts user and fills its ID. A taken user name yields an
	// error matching common.ErrStorageIntegrity.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
}
