package server

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/fleetkeeper/internal/logging"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type fakeRunner struct {
	err     error
	stopped atomic.Bool
}

func (f *fakeRunner) Run(ctx context.Context) error {
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	f.stopped.Store(true)
	return nil
}

func newTestApp(t *testing.T, httpRunner, grpcRunner runner) *App {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	return &App{logger: logging.Nop(), db: db, http: httpRunner, grpc: grpcRunner}
}

func TestApp_Run_StopsOnCancel(t *testing.T) {
	h, g := &fakeRunner{}, &fakeRunner{}
	app := newTestApp(t, h, g)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
	require.True(t, h.stopped.Load())
	require.True(t, g.stopped.Load())
	require.Error(t, app.db.Ping(), "database must be closed")
}

func TestApp_Run_ServerFailureStopsOther(t *testing.T) {
	h := &fakeRunner{err: errors.New("listen failed")}
	g := &fakeRunner{}
	app := newTestApp(t, h, g)

	done := make(chan struct{})
	go func() {
		app.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop after server failure")
	}
	require.True(t, g.stopped.Load())
}
