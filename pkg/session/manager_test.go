package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/marginalia/pkg/adapters/memory"
	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/aretw0/marginalia/pkg/ports"
	"github.com/aretw0/marginalia/pkg/session"
	"github.com/aretw0/marginalia/pkg/tracking"
	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	*memory.Store
}

func (s SlowStore) Save(ctx context.Context, id string, snap *domain.Snapshot) error {
	time.Sleep(5 * time.Millisecond)
	return s.Store.Save(ctx, id, snap)
}

func (s SlowStore) Load(ctx context.Context, id string) (*domain.Snapshot, error) {
	time.Sleep(5 * time.Millisecond)
	return s.Store.Load(ctx, id)
}

func TestManager_StartAndLoad(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	ctx := context.Background()

	sess, err := mgr.Start(ctx, "", `<a/>`)
	require.NoError(t, err)
	_, err = uuid.Parse(sess.ID)
	assert.NoError(t, err, "generated IDs are UUIDs")
	assert.Equal(t, 0, sess.Tracker.Counter())

	loaded, err := mgr.Load(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, tracking.DefaultPrefix, loaded.Tracker.Prefix())

	_, err = mgr.Start(ctx, sess.ID, `<b/>`)
	assert.ErrorIs(t, err, domain.ErrSessionExists)

	_, err = mgr.Load(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestManager_StartRejectsBadDocuments(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	ctx := context.Background()

	_, err := mgr.Start(ctx, "s1", `not xml <`)
	assert.ErrorIs(t, err, domain.ErrDecode)

	_, err = mgr.Start(ctx, "s2", `<!-- only a comment -->`)
	assert.ErrorIs(t, err, domain.ErrDecode)

	_, err = mgr.Start(ctx, "s3", `<a><?mg2-breakpoint x?></a>`)
	assert.ErrorIs(t, err, domain.ErrInconsistentLog)
}

func TestManager_StartRecoversCounter(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	ctx := context.Background()

	sess, err := mgr.Start(ctx, "s", `<a x="1" y="2"><?mg2-added-attribute y="2"?><?mg1-added-attribute x="1"?></a>`)
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Tracker.Counter())

	sess, err = mgr.Edit(ctx, "s", func(s *session.Session) error {
		return s.Tracker.UndoChanges(s.Document, 0)
	})
	require.NoError(t, err)
	clean, err := sess.Clean()
	require.NoError(t, err)
	assert.Equal(t, `<a/>`, clean)
}

func TestManager_EditAcrossRequests(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	ctx := context.Background()
	_, err := mgr.Start(ctx, "form", `<form><title lang="en">Old</title></form>`)
	require.NoError(t, err)

	_, err = mgr.Edit(ctx, "form", func(s *session.Session) error {
		return tracking.Breakpoint(s.Tracker, s.Document.Root(), "before-title")
	})
	require.NoError(t, err)

	_, err = mgr.Edit(ctx, "form", func(s *session.Session) error {
		return tracking.SetElementText(s.Tracker, s.Document.Root().SelectElement("title"), "New")
	})
	require.NoError(t, err)

	clean, err := mgr.Clean(ctx, "form")
	require.NoError(t, err)
	assert.Equal(t, `<form><title lang="en">New</title></form>`, clean)

	var label string
	sess, err := mgr.Edit(ctx, "form", func(s *session.Session) error {
		var err error
		label, _, err = s.Tracker.UndoLastBreakpoint(s.Document)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "before-title", label)
	assert.Equal(t, 0, sess.Tracker.Counter())

	snap, err := mgr.Store().Load(ctx, "form")
	require.NoError(t, err)
	assert.Equal(t, `<form><title lang="en">Old</title></form>`, snap.Document)
	assert.Equal(t, 0, snap.Counter)
}

func TestManager_EditNonFatalErrorDiscards(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	ctx := context.Background()
	_, err := mgr.Start(ctx, "s", `<a/>`)
	require.NoError(t, err)

	boom := errors.New("validation failed")
	_, err = mgr.Edit(ctx, "s", func(s *session.Session) error {
		require.NoError(t, tracking.AddAttribute(s.Tracker, s.Document.Root(), "x", "1"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	snap, err := mgr.Store().Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, `<a/>`, snap.Document)
	assert.Equal(t, 0, snap.Counter)
}

func TestManager_EditFatalErrorRestartsClean(t *testing.T) {
	var failures []string
	mgr := session.NewManager(memory.NewStore(), session.WithFailureHook(func(id string, err error) {
		failures = append(failures, id)
		assert.True(t, domain.IsFatal(err))
	}))
	ctx := context.Background()
	_, err := mgr.Start(ctx, "s", `<a/>`)
	require.NoError(t, err)

	_, err = mgr.Edit(ctx, "s", func(s *session.Session) error {
		return tracking.AddAttribute(s.Tracker, s.Document.Root(), "x", "1")
	})
	require.NoError(t, err)

	// A second replica tampers with the log: the marker for step 1 vanishes.
	_, err = mgr.Edit(ctx, "s", func(s *session.Session) error {
		for _, m := range tracking.Markers(s.Document, s.Tracker.Prefix()) {
			m.Parent.RemoveChildAt(m.Index)
		}
		_, err := s.Tracker.UndoLastChange(s.Document)
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInconsistentLog)
	assert.Equal(t, []string{"s"}, failures)

	snap, err := mgr.Store().Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, `<a x="1"/>`, snap.Document, "restarted from the clean form of the last stored document")
	assert.Equal(t, 0, snap.Counter)
}

func TestManager_Fork(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	ctx := context.Background()
	_, err := mgr.Start(ctx, "base", `<a/>`)
	require.NoError(t, err)
	_, err = mgr.Edit(ctx, "base", func(s *session.Session) error {
		return tracking.AddAttribute(s.Tracker, s.Document.Root(), "x", "1")
	})
	require.NoError(t, err)

	fork, err := mgr.Fork(ctx, "base", "draft")
	require.NoError(t, err)
	assert.Equal(t, 1, fork.Tracker.Counter())

	_, err = mgr.Edit(ctx, "draft", func(s *session.Session) error {
		return tracking.AddAttribute(s.Tracker, s.Document.Root(), "y", "2")
	})
	require.NoError(t, err)

	base, err := mgr.Clean(ctx, "base")
	require.NoError(t, err)
	draft, err := mgr.Clean(ctx, "draft")
	require.NoError(t, err)
	assert.Equal(t, `<a x="1"/>`, base)
	assert.Equal(t, `<a x="1" y="2"/>`, draft)

	_, err = mgr.Fork(ctx, "base", "draft")
	assert.ErrorIs(t, err, domain.ErrSessionExists)

	ids, err := mgr.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "draft"}, ids)
}

func TestManager_CustomPrefixTravels(t *testing.T) {
	mgr := session.NewManager(memory.NewStore(), session.WithTrackerOptions(tracking.WithPrefix("rev")))
	ctx := context.Background()
	_, err := mgr.Start(ctx, "s", `<a/>`)
	require.NoError(t, err)

	_, err = mgr.Edit(ctx, "s", func(s *session.Session) error {
		return tracking.AddAttribute(s.Tracker, s.Document.Root(), "x", "1")
	})
	require.NoError(t, err)

	snap, err := mgr.Store().Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "rev", snap.Prefix)
	assert.Equal(t, `<a x="1"><?rev1-added-attribute x="1"?></a>`, snap.Document)
}

func TestManager_ConcurrentEditsAreSerialized(t *testing.T) {
	mgr := session.NewManager(SlowStore{memory.NewStore()})
	ctx := context.Background()
	_, err := mgr.Start(ctx, "race", `<list/>`)
	require.NoError(t, err)

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Edit(ctx, "race", func(s *session.Session) error {
				return tracking.AddElement(s.Tracker, s.Document.Root(), 0, etree.NewElement("item"))
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sess, err := mgr.Load(ctx, "race")
	require.NoError(t, err)
	assert.Equal(t, writers, sess.Tracker.Counter(), "no lost updates")
	n, err := tracking.Verify(sess.Document, sess.Tracker.Prefix())
	require.NoError(t, err)
	assert.Equal(t, writers, n)
}

type recordingLocker struct {
	mu     sync.Mutex
	locked []string
}

func (l *recordingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	l.locked = append(l.locked, key)
	l.mu.Unlock()
	return func(context.Context) error { return nil }, nil
}

func TestManager_UsesDistributedLocker(t *testing.T) {
	locker := &recordingLocker{}
	mgr := session.NewManager(memory.NewStore(), session.WithLocker(locker), session.WithLockTTL(time.Second))
	ctx := context.Background()

	_, err := mgr.Start(ctx, "s", `<a/>`)
	require.NoError(t, err)
	require.NoError(t, mgr.Delete(ctx, "s"))

	assert.Equal(t, []string{"s", "s"}, locker.locked)
}

func TestManager_LoadRejectsInvalidStoredPrefix(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "s1", &domain.Snapshot{SessionID: "s1", Document: "<a/>", Prefix: "9x"}))
	mgr := session.NewManager(store)

	_, err := mgr.Load(ctx, "s1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInconsistentLog)
	assert.True(t, domain.IsFatal(err))

	called := false
	_, err = mgr.Edit(ctx, "s1", func(*session.Session) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrInconsistentLog)
	assert.False(t, called)
}
