package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/dbx"
	"github.com/dmitrijs2005/fleetkeeper/internal/logging"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/chain"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/repomanager"
)

// Deps are the collaborators shared by the entity services.
type Deps struct {
	DB          *sql.DB
	Repomanager repomanager.RepositoryManager
	Registry    *Registry
	Payloads    *PayloadService
	Log         logging.Logger
	Metrics     *metrics.Metrics
	ChainOpts   []chain.Option
}

// entityService implements the chain operations common to devices and
// groups.
type entityService struct {
	Deps
	kind models.EntityKind
	log  logging.Logger
}

func newEntityService(d Deps, kind models.EntityKind) entityService {
	return entityService{Deps: d, kind: kind, log: d.Log.With("module", string(kind)+"s")}
}

func (s *entityService) ref(id string) models.EntityRef {
	return models.EntityRef{Kind: s.kind, ID: id}
}

// chainFor binds a Chain to the repositories of tx.
func (s *entityService) chainFor(tx dbx.DBTX) *chain.Chain {
	m := s.Repomanager
	return chain.New(m.Versions(tx), repomanager.NewEntityPointers(m.Devices(tx), m.Groups(tx)), s.Log, s.ChainOpts...)
}

func validateVersionName(name string) (string, error) {
	return common.ValidateName("name", name, common.MaxNameLength)
}

// upload stages the payload, then appends a version to ref inside one
// transaction. then runs in the same transaction after the append and may
// write further versions. The staged object is removed when the
// transaction does not commit.
func (s *entityService) upload(ctx context.Context, principalID, id, name string, upload models.Upload,
	then func(ctx context.Context, tx dbx.DBTX, c *chain.Chain, draft models.VersionDraft) error) (*models.Version, error) {

	ref := s.ref(id)
	name, err := validateVersionName(name)
	if err != nil {
		return nil, err
	}
	if _, err := s.Registry.Authorize(ctx, s.DB, principalID, ref); err != nil {
		return nil, err
	}

	staged, err := s.Payloads.Stage(ctx, principalID, ref, upload)
	if err != nil {
		s.Metrics.ObserveUpload(string(s.kind), 0, err)
		return nil, err
	}

	v, err := dbx.WithTxResult(ctx, s.DB, nil, func(ctx context.Context, tx dbx.DBTX) (*models.Version, error) {
		// ownership is rechecked under the transaction
		if _, err := s.Registry.Authorize(ctx, tx, principalID, ref); err != nil {
			return nil, err
		}
		if err := s.Repomanager.Payloads(tx).Create(ctx, staged.Payload); err != nil {
			return nil, fmt.Errorf("storing payload metadata: %w", err)
		}

		draft := models.VersionDraft{
			Name:      name,
			PayloadID: &staged.Payload.ID,
			Digest:    staged.Payload.Digest,
			CreatorID: principalID,
		}
		c := s.chainFor(tx)
		v, err := c.Append(ctx, ref, draft)
		if err != nil {
			return nil, err
		}
		if then != nil {
			if err := then(ctx, tx, c, draft); err != nil {
				return nil, err
			}
		}
		return v, nil
	})
	if err != nil {
		staged.Discard(context.WithoutCancel(ctx))
		s.Metrics.ObserveUpload(string(s.kind), 0, err)
		s.log.Error(ctx, "version upload failed", "entity", ref.String(), "error", err)
		return nil, err
	}

	s.Metrics.ObserveUpload(string(s.kind), staged.Payload.Size, nil)
	s.log.Info(ctx, "version uploaded", "entity", ref.String(), "version_id", v.ID, "size", staged.Payload.Size)
	return v, nil
}

func (s *entityService) isUpToDate(ctx context.Context, principalID, id string) (bool, error) {
	ref := s.ref(id)
	if _, err := s.Registry.Authorize(ctx, s.DB, principalID, ref); err != nil {
		return false, err
	}
	return s.chainFor(s.DB).IsUpToDate(ctx, ref)
}

func (s *entityService) advanceToLatest(ctx context.Context, principalID, id string) (int, error) {
	ref := s.ref(id)
	steps, err := dbx.WithTxResult(ctx, s.DB, nil, func(ctx context.Context, tx dbx.DBTX) (int, error) {
		if _, err := s.Registry.Authorize(ctx, tx, principalID, ref); err != nil {
			return 0, err
		}
		return s.chainFor(tx).AdvanceToLatest(ctx, ref)
	})
	if err != nil {
		return 0, err
	}
	s.Metrics.ObserveAdvance(steps)
	if steps > 0 {
		s.log.Info(ctx, "advanced to latest", "entity", ref.String(), "steps", steps)
	}
	return steps, nil
}

func (s *entityService) rollback(ctx context.Context, principalID, id, versionID string) (*models.Version, error) {
	ref := s.ref(id)
	v, err := dbx.WithTxResult(ctx, s.DB, nil, func(ctx context.Context, tx dbx.DBTX) (*models.Version, error) {
		if _, err := s.Registry.Authorize(ctx, tx, principalID, ref); err != nil {
			return nil, err
		}
		return s.chainFor(tx).Rollback(ctx, ref, versionID)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "rolled back", "entity", ref.String(), "version_id", v.ID)
	return v, nil
}

func (s *entityService) listVersions(ctx context.Context, principalID, id string) ([]*models.Version, error) {
	ref := s.ref(id)
	if _, err := s.Registry.Authorize(ctx, s.DB, principalID, ref); err != nil {
		return nil, err
	}
	return s.Repomanager.Versions(s.DB).ListByEntity(ctx, ref)
}
