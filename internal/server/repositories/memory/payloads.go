package memory

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
)

type payloadRepo struct{ s *Store }

func (r payloadRepo) Create(ctx context.Context, p *models.Payload) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.fail("payloads.Create", p.ID); err != nil {
		return err
	}
	if _, ok := r.s.payloads[p.ID]; ok {
		return fmt.Errorf("%w: payload %s exists", common.ErrStorageIntegrity, p.ID)
	}
	cp := *p
	r.s.payloads[p.ID] = &cp
	r.s.undo(ctx, func() { delete(r.s.payloads, p.ID) })
	return nil
}

func (r payloadRepo) Get(_ context.Context, id string) (*models.Payload, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.payloads[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *p
	return &cp, nil
}

// PayloadCount returns the number of stored payload rows.
func (s *Store) PayloadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}
