package lifecycle

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/coordination"
	docker "github.com/kandev/orchestrator/internal/container"
	"github.com/kandev/orchestrator/internal/db"
	"github.com/kandev/orchestrator/internal/store"
)

type fakeTemplate struct {
	spec TemplateSpec
	err  error
}

func (f fakeTemplate) Resolve(string) (TemplateSpec, error) {
	return f.spec, f.err
}

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.OpenSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	sdb := sqlx.NewDb(conn, "sqlite3")
	pool := db.NewPool(sdb, sdb)
	require.NoError(t, store.Bootstrap(context.Background(), pool))
	st := store.New(pool)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	coord, err := coordination.New(coordination.Config{Addr: mr.Addr(), KeyPrefix: "orch-test"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close() })

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	tmpl := fakeTemplate{spec: TemplateSpec{
		Image:  "kandev/sandbox:latest",
		Kind:   store.RuntimeKindSandboxedLLM,
		Mounts: []docker.MountConfig{{Source: "/data/alpha", Target: "/workspace"}},
	}}

	return New(st, nil, coord, tmpl, nil, log), st
}

func TestCreateWithoutAutoStartWritesAgentAndCredential(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	agent := &store.Agent{Name: "alpha", OwnerID: "u1", TemplateRef: "default", MemoryMB: 512, CPU: 1}
	require.NoError(t, m.Create(ctx, agent, CreateOptions{AutoStart: false}))

	stored, err := st.GetAgent(ctx, "alpha")
	require.NoError(t, err)
	require.Equal(t, store.AgentStatusCreated, stored.Status)
	require.Equal(t, store.RuntimeKindSandboxedLLM, stored.Kind)

	keys, err := st.ListAPIKeysForAgent(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, keys, 1)

	blob, err := m.coord.GetCredential(ctx, "alpha")
	require.NoError(t, err)
	require.NotEmpty(t, blob)
}

func TestCreatePropagatesTemplateResolutionFailure(t *testing.T) {
	m, _ := newTestManager(t)
	m.template = fakeTemplate{err: errTemplateNotFound}

	err := m.Create(context.Background(), &store.Agent{Name: "beta", OwnerID: "u1", TemplateRef: "missing"}, CreateOptions{})
	require.Error(t, err)
}
