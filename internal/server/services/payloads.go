package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/fleetkeeper/internal/checksum"
	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"github.com/dmitrijs2005/fleetkeeper/internal/logging"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/storage"
	"github.com/google/uuid"
)

// BlobStore keeps payload bytes. storage.S3Store implements it.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64) error
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key, fileName string, ttl time.Duration) (string, error)
}

// StagedPayload is a payload whose bytes are already in the blob store but
// whose metadata row is not yet committed.
type StagedPayload struct {
	Payload *models.Payload

	blobs BlobStore
	log   logging.Logger
}

// Discard removes the stored bytes after the owning transaction failed.
// Failures are logged; the orphaned object is harmless.
func (p *StagedPayload) Discard(ctx context.Context) {
	if err := p.blobs.Delete(ctx, p.Payload.StorageKey); err != nil {
		p.log.Warn(ctx, "orphaned payload object", "key", p.Payload.StorageKey, "error", err)
	}
}

type PayloadService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	registry    *Registry
	blobs       BlobStore
	maxSize     int64
	log         logging.Logger
	tempDir     string
	now         func() time.Time
}

func NewPayloadService(db *sql.DB, m repomanager.RepositoryManager, registry *Registry, blobs BlobStore, maxSize int64, log logging.Logger) *PayloadService {
	return &PayloadService{
		db:          db,
		repomanager: m,
		registry:    registry,
		blobs:       blobs,
		maxSize:     maxSize,
		log:         log.With("module", "payloads"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func cleanFileName(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = filepath.Base(name)
	if name == "" || name == "." || name == "/" {
		return "", common.NewValidationError("file", "file name is required")
	}
	if len(name) > common.MaxAddressLength {
		return "", common.NewValidationError("file", fmt.Sprintf("file name exceeds %d characters", common.MaxAddressLength))
	}
	return name, nil
}

// StorageKey places the object under the owning entity's id.
func StorageKey(ref models.EntityRef, fileName string) string {
	return fmt.Sprintf("%s/%s_%s", ref.ID, uuid.NewString(), fileName)
}

// Stage spools the upload to a temporary file, computes its digest and
// stores the bytes. The caller persists Payload inside its transaction and
// calls Discard when that transaction fails.
func (s *PayloadService) Stage(ctx context.Context, uploaderID string, ref models.EntityRef, upload models.Upload) (*StagedPayload, error) {
	if upload.Body == nil {
		return nil, common.NewValidationError("file", "payload is required")
	}
	fileName, err := cleanFileName(upload.FileName)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(s.tempDir, "fleetkeeper-upload-*")
	if err != nil {
		return nil, fmt.Errorf("%w: creating spool file: %v", common.ErrIO, err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()

	body := upload.Body
	if s.maxSize > 0 {
		body = io.LimitReader(body, s.maxSize+1)
	}
	size, err := io.Copy(f, body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading payload: %v", common.ErrIO, err)
	}
	if size == 0 {
		return nil, common.NewValidationError("file", "payload is empty")
	}
	if s.maxSize > 0 && size > s.maxSize {
		return nil, common.NewValidationError("file", fmt.Sprintf("payload exceeds %d bytes", s.maxSize))
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: rewinding spool file: %v", common.ErrIO, err)
	}
	digest, err := checksum.Compute(f)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: rewinding spool file: %v", common.ErrIO, err)
	}

	p := &models.Payload{
		ID:         uuid.NewString(),
		StorageKey: StorageKey(ref, fileName),
		FileName:   fileName,
		Size:       size,
		Digest:     digest,
		UploaderID: uploaderID,
		CreatedAt:  s.now(),
	}
	if err := s.blobs.Put(ctx, p.StorageKey, f, size); err != nil {
		return nil, err
	}

	s.log.Debug(ctx, "payload staged", "key", p.StorageKey, "size", size)
	return &StagedPayload{Payload: p, blobs: s.blobs, log: s.log}, nil
}

// DownloadURL returns a time-limited URL for the payload of versionID. The
// principal must own the entity the version belongs to.
func (s *PayloadService) DownloadURL(ctx context.Context, principalID, versionID string) (string, error) {
	v, err := s.repomanager.Versions(s.db).Get(ctx, versionID)
	if err != nil {
		return "", err
	}
	if _, err := s.registry.Authorize(ctx, s.db, principalID, v.Entity); err != nil {
		return "", err
	}
	if v.PayloadID == nil {
		return "", fmt.Errorf("%w: version %s has no payload", common.ErrorNotFound, v.ID)
	}

	p, err := s.repomanager.Payloads(s.db).Get(ctx, *v.PayloadID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", fmt.Errorf("%w: payload of version %s", common.ErrorNotFound, v.ID)
		}
		return "", err
	}
	return s.blobs.PresignGet(ctx, p.StorageKey, p.FileName, storage.DefaultPresignTTL)
}
