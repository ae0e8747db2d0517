package schedule

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/clip-harvester/pkg/harvest"
	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/storage"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestStore(t *testing.T) *storage.BadgerStore {
	t.Helper()
	store, err := storage.NewBadgerStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type fakeRunner struct {
	mu     sync.Mutex
	params []harvest.JobParams
	status models.JobStatus
	err    error
}

func (r *fakeRunner) CreateAndRun(_ context.Context, params harvest.JobParams, origin models.JobOrigin) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if origin != models.OriginSchedule {
		return nil, errors.New("unexpected origin")
	}
	r.params = append(r.params, params)
	if r.err != nil {
		return nil, r.err
	}
	return &models.Job{ID: "job-1", Status: r.status}, nil
}

func createTemplate(t *testing.T, store storage.TemplateStore, id string, enabled bool) *models.RecurrenceTemplate {
	t.Helper()
	tmpl := &models.RecurrenceTemplate{
		ID:              id,
		Name:            "daily " + id,
		Mode:            models.SelectorHashtag,
		Value:           "cats",
		Limit:           5,
		NoWatermark:     true,
		FolderOverride:  "pets/cats",
		IntervalMinutes: 30,
		Enabled:         enabled,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, store.CreateTemplate(tmpl))
	return tmpl
}

func TestEngine_FireRecordsOutcome(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{status: models.JobStatusCompleted}
	e := NewEngine(store, runner, testLogger())
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }
	createTemplate(t, store, "t1", true)

	require.NoError(t, e.Fire(context.Background(), "t1"))

	got, err := store.GetTemplate("t1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalRuns)
	assert.Equal(t, 1, got.SuccessfulRuns)
	assert.Equal(t, 0, got.FailedRuns)
	assert.Equal(t, "job-1", got.LastJobID)
	require.NotNil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.Equal(t, fixed.Add(30*time.Minute), got.NextRunAt.UTC())

	require.Len(t, runner.params, 1)
	p := runner.params[0]
	assert.Equal(t, models.SelectorHashtag, p.Mode)
	assert.Equal(t, "cats", p.Value)
	assert.Equal(t, 5, p.Limit)
	assert.True(t, p.NoWatermark)
	assert.Equal(t, "pets/cats", p.FolderOverride)

	runner.status = models.JobStatusFailed
	require.NoError(t, e.Fire(context.Background(), "t1"))
	got, err = store.GetTemplate("t1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalRuns)
	assert.Equal(t, 1, got.SuccessfulRuns)
	assert.Equal(t, 1, got.FailedRuns)
}

func TestEngine_FireRunnerErrorCountsAsFailed(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{err: errors.New("queue stopped")}
	e := NewEngine(store, runner, testLogger())
	createTemplate(t, store, "t1", true)

	err := e.Fire(context.Background(), "t1")
	require.Error(t, err)

	got, err := store.GetTemplate("t1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalRuns)
	assert.Equal(t, 1, got.FailedRuns)
}

func TestEngine_FireSkipsDisabledAndDeleted(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{status: models.JobStatusCompleted}
	e := NewEngine(store, runner, testLogger())

	createTemplate(t, store, "off", false)
	require.NoError(t, e.Fire(context.Background(), "off"))

	tmpl := createTemplate(t, store, "gone", true)
	require.NoError(t, e.Register(tmpl))
	require.True(t, e.IsRegistered("gone"))
	require.NoError(t, store.DeleteTemplate("gone"))

	require.NoError(t, e.Fire(context.Background(), "gone"))
	assert.False(t, e.IsRegistered("gone"), "deleted template should lose its entry")
	assert.Empty(t, runner.params)

	off, err := store.GetTemplate("off")
	require.NoError(t, err)
	assert.Zero(t, off.TotalRuns)
}

func TestEngine_RegisterAndDeregister(t *testing.T) {
	store := newTestStore(t)
	e := NewEngine(store, &fakeRunner{}, testLogger())
	tmpl := createTemplate(t, store, "t1", true)

	require.NoError(t, e.Register(tmpl))
	assert.Equal(t, 1, e.Entries())
	got, err := store.GetTemplate("t1")
	require.NoError(t, err)
	assert.NotNil(t, got.NextRunAt)

	// Re-registering replaces the entry instead of adding one
	tmpl.IntervalMinutes = 60
	require.NoError(t, e.Register(tmpl))
	assert.Equal(t, 1, e.Entries())

	// Registering a disabled template removes it
	tmpl.Enabled = false
	require.NoError(t, e.Register(tmpl))
	assert.Equal(t, 0, e.Entries())

	tmpl.Enabled = true
	tmpl.IntervalMinutes = 0
	err = e.Register(tmpl)
	assert.ErrorIs(t, err, utils.ErrValidation)

	e.Deregister("never-registered")
	assert.Equal(t, 0, e.Entries())
}

func TestEngine_StartLoadsEnabledTemplates(t *testing.T) {
	store := newTestStore(t)
	e := NewEngine(store, &fakeRunner{}, testLogger())
	createTemplate(t, store, "a", true)
	createTemplate(t, store, "b", false)
	createTemplate(t, store, "c", true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	assert.Equal(t, 2, e.Entries())
	assert.True(t, e.IsRegistered("a"))
	assert.False(t, e.IsRegistered("b"))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, e.Stop(stopCtx))
}
