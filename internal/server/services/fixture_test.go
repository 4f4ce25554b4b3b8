package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/fleetkeeper/internal/logging"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/models"
	"github.com/dmitrijs2005/fleetkeeper/internal/server/repositories/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// newTxDB returns a database whose transactions always begin and commit.
// The memory repositories ignore it; it only drives dbx.WithTx.
func newTxDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string

	putErr    error
	deleteErr error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}}
}

func (b *memBlobs) Put(_ context.Context, key string, body io.ReadSeeker, size int64) error {
	if b.putErr != nil {
		return b.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: %d != %d", len(data), size)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, key)
	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.objects, key)
	return nil
}

func (b *memBlobs) PresignGet(_ context.Context, key, fileName string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://blobs.test/%s?name=%s&ttl=%d", key, fileName, int(ttl.Seconds())), nil
}

func (b *memBlobs) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type fixture struct {
	m        *memory.Manager
	blobs    *memBlobs
	metrics  *metrics.Metrics
	registry *Registry
	payloads *PayloadService
	devices  *DeviceService
	groups   *GroupService
}

func newFixtureWithDB(t *testing.T, db *sql.DB) *fixture {
	t.Helper()
	m := memory.NewManager()
	blobs := newMemBlobs()
	met := metrics.New(prometheus.NewRegistry())
	registry := NewRegistry(m)
	payloadSvc := NewPayloadService(db, m, registry, blobs, 1<<20, logging.Nop())
	payloadSvc.tempDir = t.TempDir()

	deps := Deps{
		DB:          db,
		Repomanager: m,
		Registry:    registry,
		Payloads:    payloadSvc,
		Log:         logging.Nop(),
		Metrics:     met,
	}
	return &fixture{
		m:        m,
		blobs:    blobs,
		metrics:  met,
		registry: registry,
		payloads: payloadSvc,
		devices:  NewDeviceService(deps),
		groups:   NewGroupService(deps),
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithDB(t, newTxDB(t))
}

func upload(name, content string) models.Upload {
	return models.Upload{FileName: name, Body: strings.NewReader(content)}
}

func (f *fixture) device(t *testing.T, owner, name string) *models.Device {
	t.Helper()
	d, err := f.devices.Create(context.Background(), owner, name, nil)
	require.NoError(t, err)
	return d
}

func (f *fixture) group(t *testing.T, owner, name string) *models.DeviceGroup {
	t.Helper()
	g, err := f.groups.Create(context.Background(), owner, name)
	require.NoError(t, err)
	return g
}

func (f *fixture) current(t *testing.T, id string) *string {
	t.Helper()
	d, err := f.m.Devices(nil).Get(context.Background(), id)
	require.NoError(t, err)
	return d.CurrentVersionID
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errBoom{} }
