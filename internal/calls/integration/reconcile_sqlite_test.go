package integration

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"callwatch/internal/calls/application"
	calls "callwatch/internal/calls/domain"
	"callwatch/internal/calls/infrastructure/sqlstore"
	"callwatch/internal/db"
	"callwatch/internal/db/migrate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type capturedPublisher struct {
	mu   sync.Mutex
	sent []calls.Notification
}

func (p *capturedPublisher) Publish(_ context.Context, n calls.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return nil
}

func (p *capturedPublisher) drain() []calls.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.sent
	p.sent = nil
	return out
}

// panelFrame is a capture that always shows the same cards.
type panelFrame []calls.RawItem

func (f panelFrame) WaitForItems(context.Context, time.Duration) (bool, error) {
	return len(f) > 0, nil
}

func (f panelFrame) ReadItems(context.Context) ([]calls.RawItem, error) {
	return f, nil
}

type harness struct {
	repo      *sqlstore.CallRepository
	publisher *capturedPublisher
	poller    *application.Poller
	previous  calls.Snapshot
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calls.db")
	require.NoError(t, migrate.Run(db.DriverSQLite, path, "up"))
	conn, err := db.Open(context.Background(), db.DriverSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	repo, err := sqlstore.NewCallRepository(conn, sqlstore.DialectSQLite)
	require.NoError(t, err)

	publisher := &capturedPublisher{}
	clock := &tickClock{now: time.Date(2025, 11, 15, 8, 0, 0, 0, time.UTC)}
	reconciler, err := application.NewReconciler(repo, publisher,
		application.WithClock(clock),
		application.WithLocation(time.UTC),
		application.WithConcurrency(2),
	)
	require.NoError(t, err)

	parser := calls.Parser{
		Table: calls.BranchTable{
			{Key: "matriz", Label: "Matriz"},
			{Key: "T63"},
			{Key: "scraper", Label: "Clinica"},
		},
		Fallback:    "Clinica",
		Annotations: calls.DefaultAnnotations(),
	}
	poller, err := application.NewPoller(reconciler, parser, application.WithPollerClock(clock))
	require.NoError(t, err)

	return &harness{repo: repo, publisher: publisher, poller: poller}
}

func (h *harness) cycle(t *testing.T, items ...calls.RawItem) []calls.Notification {
	t.Helper()
	next, err := h.poller.Cycle(context.Background(), panelFrame(items), h.previous)
	require.NoError(t, err)
	h.previous = next
	return h.publisher.drain()
}

func TestPanelLifecycleOverSQLite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ana := calls.RawItem{Patient: "Ana Silva*", Provider: "Dr. A", RoomLabel: "Matriz - Audiometria"}
	bia := calls.RawItem{Patient: "Bia Souza", Provider: "Dr. B", RoomLabel: "Matriz - Sala 1"}

	sent := h.cycle(t, ana)
	require.Len(t, sent, 1)
	firstID := sent[0].ID
	assert.Equal(t, "PANEL:2025-11-15:MATRIZ:ANA_SILVA:AUDIOMETRIA", firstID)
	assert.Equal(t, "Matriz", sent[0].TopicKey)
	assert.Equal(t, "Audiometria", sent[0].Room)

	for i := 0; i < 3; i++ {
		assert.Empty(t, h.cycle(t, ana), "unchanged panel announces nothing")
	}
	assert.Empty(t, h.cycle(t), "empty panel keeps the previous snapshot")
	assert.Empty(t, h.cycle(t, ana), "call still known after an empty frame")

	sent = h.cycle(t, bia)
	require.Len(t, sent, 1)
	assert.Equal(t, "Bia Souza", sent[0].PatientName)

	anaAgain := ana
	anaAgain.Provider = "Dr. C"
	sent = h.cycle(t, anaAgain)
	require.Len(t, sent, 1)
	assert.Equal(t, firstID, sent[0].ID, "reappearing call reuses its id")

	stored, err := h.repo.ListDay(ctx, "2025-11-15", "Matriz")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "Bia Souza", stored[0].Patient)
	assert.Equal(t, "Ana Silva", stored[1].Patient)
	assert.Equal(t, "Dr. C", stored[1].Caller)
}

func TestRepeatAnnouncesLastCallOfBranch(t *testing.T) {
	h := newHarness(t)

	bia := calls.RawItem{Patient: "Bia Souza", Provider: "Dr. B", RoomLabel: "Matriz - Sala 1"}
	ana := calls.RawItem{Patient: "Ana Silva", Provider: "Dr. A", RoomLabel: "Matriz - Audiometria"}
	require.Len(t, h.cycle(t, bia), 1)
	require.Len(t, h.cycle(t, bia, ana), 1)

	repeat := calls.RawItem{Patient: "Ana Silva", Provider: "Dr. A", RoomLabel: "Matriz - Chamar novamente"}
	sent := h.cycle(t, bia, ana, repeat)
	require.Len(t, sent, 1)
	assert.Equal(t, "PANEL:2025-11-15:MATRIZ:ANA_SILVA:AUDIOMETRIA", sent[0].ID)
	assert.Equal(t, "Audiometria", sent[0].Room, "repeat announces the stored room")

	last, err := h.repo.FindLast(context.Background(), "2025-11-15", "Matriz")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, sent[0].ID, last.ID)
}

func TestRepeatWithoutPriorCallIsSilent(t *testing.T) {
	h := newHarness(t)

	repeat := calls.RawItem{Patient: "Caio Lima", RoomLabel: "T63 – Chamar novamente"}
	assert.Empty(t, h.cycle(t, repeat))
	assert.Empty(t, h.cycle(t, repeat), "no retry storm for a repeat with no prior call")

	stored, err := h.repo.ListDay(context.Background(), "2025-11-15", "")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestBranchesAreIndependent(t *testing.T) {
	h := newHarness(t)

	sent := h.cycle(t,
		calls.RawItem{Patient: "Ana Silva", RoomLabel: "Matriz - Sala 2"},
		calls.RawItem{Patient: "Ana Silva", RoomLabel: "T63 - Sala 2"},
		calls.RawItem{Patient: "Davi Rocha", RoomLabel: "Sala 9"},
	)
	require.Len(t, sent, 3)

	ids := map[string]bool{}
	for _, n := range sent {
		ids[n.ID] = true
	}
	assert.True(t, ids["PANEL:2025-11-15:MATRIZ:ANA_SILVA:SALA_2"])
	assert.True(t, ids["PANEL:2025-11-15:T63:ANA_SILVA:SALA_2"])
	assert.True(t, ids["PANEL:2025-11-15:CLINICA:DAVI_ROCHA:SALA_9"])

	stored, err := h.repo.ListDay(context.Background(), "2025-11-15", "")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	for _, record := range stored {
		assert.Equal(t, "unknown", record.Caller)
	}
}
