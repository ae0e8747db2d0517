package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newJob(id string, created time.Time) *models.Job {
	return &models.Job{
		ID:        id,
		Mode:      models.SelectorProfile,
		Value:     "alice",
		Limit:     3,
		Status:    models.JobStatusPending,
		CreatedAt: created,
	}
}

func TestNewBadgerStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	store1, err := NewBadgerStore(dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, store1.CreateJob(newJob("j1", time.Now())))
	require.NoError(t, store1.Close())

	store2, err := NewBadgerStore(dir, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store2.Close() })

	job, err := store2.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, "alice", job.Value)
}

func TestBadgerStore_Jobs(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("get missing returns not found", func(t *testing.T) {
		_, err := store.GetJob("missing")
		assert.ErrorIs(t, err, utils.ErrNotFound)
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateJob(newJob(fmt.Sprintf("j%d", i), base.Add(time.Duration(i)*time.Minute))))
	}
	done := newJob("j3", base.Add(10*time.Minute))
	done.Status = models.JobStatusCompleted
	done.Mode = models.SelectorHashtag
	require.NoError(t, store.CreateJob(done))

	t.Run("list newest first", func(t *testing.T) {
		jobs, err := store.ListJobs(JobFilter{})
		require.NoError(t, err)
		require.Len(t, jobs, 4)
		assert.Equal(t, "j3", jobs[0].ID)
		assert.Equal(t, "j0", jobs[3].ID)
	})

	t.Run("filters and paging", func(t *testing.T) {
		jobs, err := store.ListJobs(JobFilter{Status: models.JobStatusPending})
		require.NoError(t, err)
		assert.Len(t, jobs, 3)

		jobs, err = store.ListJobs(JobFilter{Mode: models.SelectorHashtag})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "j3", jobs[0].ID)

		jobs, err = store.ListJobs(JobFilter{Offset: 1, Limit: 2})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "j2", jobs[0].ID)
		assert.Equal(t, "j1", jobs[1].ID)

		jobs, err = store.ListJobs(JobFilter{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("mutate commits", func(t *testing.T) {
		job, err := store.MutateJob("j0", func(j *models.Job) error {
			j.Status = models.JobStatusRunning
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusRunning, job.Status)

		reloaded, err := store.GetJob("j0")
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusRunning, reloaded.Status)
	})

	t.Run("mutate error aborts and passes through", func(t *testing.T) {
		_, err := store.MutateJob("j1", func(j *models.Job) error {
			j.Status = models.JobStatusFailed
			return fmt.Errorf("%w: nope", utils.ErrInvalidState)
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrInvalidState)
		assert.False(t, errors.Is(err, utils.ErrDatabase))

		reloaded, err := store.GetJob("j1")
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusPending, reloaded.Status)
	})

	t.Run("mutate missing", func(t *testing.T) {
		_, err := store.MutateJob("missing", func(*models.Job) error { return nil })
		assert.ErrorIs(t, err, utils.ErrNotFound)
	})
}

func TestBadgerStore_MutateJob_ConcurrentIncrements(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateJob(newJob("j", time.Now())))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 5; k++ {
				_, err := store.MutateJob("j", func(j *models.Job) error {
					j.Succeeded++
					return nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	job, err := store.GetJob("j")
	require.NoError(t, err)
	assert.Equal(t, 15, job.Succeeded)
}

func TestBadgerStore_ItemsAndJobIndex(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	require.NoError(t, store.CreateJob(newJob("a", now)))
	require.NoError(t, store.CreateJob(newJob("b", now.Add(time.Second))))

	for i, id := range []string{"333", "111", "222"} {
		require.NoError(t, store.SaveItem(&models.Item{
			ID: id, JobID: "a", Seq: i, Status: models.ItemStatusPending,
			DiscoveredAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	t.Run("job items in discovery order", func(t *testing.T) {
		items, err := store.ListItems(ItemFilter{JobID: "a"})
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, []string{"333", "111", "222"}, []string{items[0].ID, items[1].ID, items[2].ID})
	})

	t.Run("all items newest first", func(t *testing.T) {
		items, err := store.ListItems(ItemFilter{})
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, "222", items[0].ID)
	})

	t.Run("reattach moves index entry", func(t *testing.T) {
		item, err := store.GetItem("111")
		require.NoError(t, err)
		item.JobID = "b"
		require.NoError(t, store.SaveItem(item))

		aItems, err := store.ListItems(ItemFilter{JobID: "a"})
		require.NoError(t, err)
		assert.Len(t, aItems, 2)

		bItems, err := store.ListItems(ItemFilter{JobID: "b"})
		require.NoError(t, err)
		require.Len(t, bItems, 1)
		assert.Equal(t, "111", bItems[0].ID)
	})

	t.Run("status filter", func(t *testing.T) {
		_, err := store.MutateItem("222", func(i *models.Item) error {
			i.Status = models.ItemStatusStored
			i.ExternalID = "ext"
			return nil
		})
		require.NoError(t, err)
		items, err := store.ListItems(ItemFilter{Status: models.ItemStatusStored})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "222", items[0].ID)
		assert.True(t, items[0].IsStored())
	})

	t.Run("cascade delete removes only owned items", func(t *testing.T) {
		removed, err := store.DeleteJob("a")
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		_, err = store.GetJob("a")
		assert.ErrorIs(t, err, utils.ErrNotFound)
		_, err = store.GetItem("333")
		assert.ErrorIs(t, err, utils.ErrNotFound)

		item, err := store.GetItem("111")
		require.NoError(t, err)
		assert.Equal(t, "b", item.JobID)
	})

	t.Run("delete missing job", func(t *testing.T) {
		_, err := store.DeleteJob("nope")
		assert.ErrorIs(t, err, utils.ErrNotFound)
	})
}

func TestBadgerStore_ForEachItem(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 4; i++ {
		require.NoError(t, store.SaveItem(&models.Item{ID: fmt.Sprintf("i%d", i), LocalPath: "/tmp/x"}))
	}

	// fn may write back to the store while scanning
	visited := 0
	err := store.ForEachItem(context.Background(), func(item *models.Item) error {
		visited++
		_, err := store.MutateItem(item.ID, func(i *models.Item) error {
			i.LocalPath = ""
			return nil
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 4, visited)

	items, err := store.ListItems(ItemFilter{})
	require.NoError(t, err)
	for _, item := range items {
		assert.Empty(t, item.LocalPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = store.ForEachItem(ctx, func(*models.Item) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBadgerStore_Sources(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	require.NoError(t, store.SaveSource(&models.WatchedSource{Value: "bob", Enabled: true, IntervalMinutes: 60, CreatedAt: now.Add(time.Minute)}))
	require.NoError(t, store.SaveSource(&models.WatchedSource{Value: "alice", Enabled: true, IntervalMinutes: 60, CreatedAt: now}))

	sources, err := store.ListSources()
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "alice", sources[0].Value)

	src, err := store.MutateSource("alice", func(s *models.WatchedSource) error {
		s.Enabled = false
		s.PollCount++
		return nil
	})
	require.NoError(t, err)
	assert.False(t, src.Enabled)
	assert.Equal(t, 1, src.PollCount)

	_, err = store.GetSource("carol")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestBadgerStore_Templates(t *testing.T) {
	store := newTestStore(t)
	tmpl := &models.RecurrenceTemplate{ID: "t1", Name: "daily", Mode: models.SelectorHashtag, Value: "cats", IntervalMinutes: 60, Enabled: true, CreatedAt: time.Now()}
	require.NoError(t, store.CreateTemplate(tmpl))

	got, err := store.GetTemplate("t1")
	require.NoError(t, err)
	assert.Equal(t, "daily", got.Name)

	updated, err := store.MutateTemplate("t1", func(tp *models.RecurrenceTemplate) error {
		tp.TotalRuns++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.TotalRuns)

	list, err := store.ListTemplates()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.DeleteTemplate("t1"))
	_, err = store.GetTemplate("t1")
	assert.ErrorIs(t, err, utils.ErrNotFound)
	assert.ErrorIs(t, store.DeleteTemplate("t1"), utils.ErrNotFound)
}

func TestBadgerStore_Stats(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	require.NoError(t, store.CreateJob(newJob("j1", now)))
	done := newJob("j2", now)
	done.Status = models.JobStatusCompleted
	require.NoError(t, store.CreateJob(done))
	require.NoError(t, store.SaveItem(&models.Item{ID: "1", JobID: "j1", Status: models.ItemStatusStored, LocalPath: "/x", FileSize: 100}))
	require.NoError(t, store.SaveItem(&models.Item{ID: "2", JobID: "j1", Status: models.ItemStatusFailed, FileSize: 50}))
	require.NoError(t, store.CreateTemplate(&models.RecurrenceTemplate{ID: "t1", Enabled: true}))
	require.NoError(t, store.CreateTemplate(&models.RecurrenceTemplate{ID: "t2"}))
	require.NoError(t, store.SaveSource(&models.WatchedSource{Value: "alice", Enabled: true}))

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalJobs)
	assert.Equal(t, 1, stats.Jobs[models.JobStatusPending])
	assert.Equal(t, 1, stats.Jobs[models.JobStatusCompleted])
	assert.Equal(t, 2, stats.TotalItems)
	assert.Equal(t, 1, stats.Items[models.ItemStatusStored])
	assert.Equal(t, int64(100), stats.StorageBytes)
	assert.Equal(t, 2, stats.Templates)
	assert.Equal(t, 1, stats.ActiveTemplates)
	assert.Equal(t, 1, stats.Sources)
	assert.Equal(t, 1, stats.EnabledSources)
}

func TestBadgerStore_RunGCStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.RunGC(ctx, 10*time.Millisecond) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunGC did not stop after cancel")
	}
}

func TestBadgerStore_CloseTwice(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
