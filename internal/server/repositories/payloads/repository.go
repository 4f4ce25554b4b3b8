// Package payloads stores metadata of firmware payloads kept in object
// storage.
package payloads

import (
	"context"

	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, payload *models.Payload) error
	Get(ctx context.Context, id string) (*models.Payload, error)
}
