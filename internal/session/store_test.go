package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ziadkadry99/bms-assistant/internal/db"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	s := NewStore(WithClock(clock.Now))

	a := s.GetOrCreate(ctx, "alice")
	created := a.Snapshot().LastActivity

	clock.Advance(time.Minute)
	b := s.GetOrCreate(ctx, "alice")

	assert.Same(t, a, b)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, created.Add(time.Minute), b.Snapshot().LastActivity)
	assert.Equal(t, created, b.Snapshot().CreatedAt)
	assert.Equal(t, DefaultRole, b.Snapshot().Context.Role)
}

func TestRecordTurnCapsHistory(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for i := 0; i < 21; i++ {
		s.RecordTurn(ctx, "alice", Turn{Query: fmt.Sprintf("q%d", i)})
	}

	h := s.GetRecent(ctx, "alice", 0)
	require.Len(t, h, DefaultHistoryLimit)
	assert.Equal(t, "q1", h[0].Query)
	assert.Equal(t, "q20", h[len(h)-1].Query)
}

func TestRecordTurnKeepsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.RecordTurn(ctx, "alice", Turn{Query: "same"})
	s.RecordTurn(ctx, "alice", Turn{Query: "same"})
	assert.Len(t, s.GetRecent(ctx, "alice", 10), 2)
}

func TestRecordThenGetRecentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.RecordTurn(ctx, "alice", Turn{Query: "first"})
	stored := s.RecordTurn(ctx, "alice", Turn{Query: "show alarms", Response: "none", Device: "AHU-1", Intent: "alarms"})

	got := s.GetRecent(ctx, "alice", 1)
	require.Len(t, got, 1)
	assert.Equal(t, stored, got[0])
	assert.NotEmpty(t, stored.ID)
	assert.False(t, stored.Timestamp.IsZero())

	c := s.Context(ctx, "alice")
	assert.Equal(t, "AHU-1", c.LastDevice)
	assert.Equal(t, "alarms", c.LastQueryType)
	assert.Equal(t, []string{"AHU-1"}, c.RecentDevices)
}

func TestGetRecentPreservesOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for i := 0; i < 5; i++ {
		s.RecordTurn(ctx, "bob", Turn{Query: fmt.Sprintf("q%d", i)})
	}
	got := s.GetRecent(ctx, "bob", 3)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"q2", "q3", "q4"}, []string{got[0].Query, got[1].Query, got[2].Query})
}

func TestConcurrentTurnsForSameUser(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithHistoryLimit(1000))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.RecordTurn(ctx, "alice", Turn{Query: fmt.Sprintf("q%d", i)})
			s.RecordTurn(ctx, fmt.Sprintf("user-%d", i), Turn{Query: "hi"})
		}(i)
	}
	wg.Wait()

	assert.Len(t, s.GetRecent(ctx, "alice", 0), 50)
	assert.Equal(t, 51, s.Len())
}

func TestConcurrentTurnsRespectCap(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.RecordTurn(ctx, "alice", Turn{Query: fmt.Sprintf("q%d", i)})
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.GetRecent(ctx, "alice", 0), DefaultHistoryLimit)
}

func TestUpdateContext(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.UpdateContext(ctx, "alice", func(c *Context) {
		c.Role = "admin"
		c.Preferences["units"] = "metric"
		c.LastAlarmQuery = &AlarmQuery{Device: "IAQ Sensor V2 - 300186", Severity: "CRITICAL"}
	})

	c := s.Context(ctx, "alice")
	assert.Equal(t, "admin", c.Role)
	assert.Equal(t, "metric", c.Preferences["units"])
	require.NotNil(t, c.LastAlarmQuery)

	// the copy is detached from the session
	c.Preferences["units"] = "imperial"
	c.LastAlarmQuery.Severity = "MINOR"
	again := s.Context(ctx, "alice")
	assert.Equal(t, "metric", again.Preferences["units"])
	assert.Equal(t, "CRITICAL", again.LastAlarmQuery.Severity)
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.EnqueueNotification(ctx, "alice", "first")
	s.EnqueueNotification(ctx, "alice", map[string]string{"message": "second"})

	assert.Len(t, s.Notifications(ctx, "alice"), 2)
	drained := s.DrainNotifications(ctx, "alice")
	require.Len(t, drained, 2)
	assert.Equal(t, "first", drained[0].Payload)
	assert.Empty(t, s.Notifications(ctx, "alice"))
}

func TestNotificationQueueIsBounded(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	for i := 0; i < maxNotifications+5; i++ {
		s.EnqueueNotification(ctx, "alice", i)
	}
	got := s.Notifications(ctx, "alice")
	require.Len(t, got, maxNotifications)
	assert.Equal(t, 5, got[0].Payload)
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	s := NewStore(WithClock(clock.Now), WithTimeout(time.Hour))

	old := s.GetOrCreate(ctx, "idle")
	clock.Advance(30 * time.Minute)
	s.GetOrCreate(ctx, "active")
	clock.Advance(31 * time.Minute)

	assert.Equal(t, 1, s.Sweep(clock.Now()))
	_, ok := s.Lookup("idle")
	assert.False(t, ok)
	_, ok = s.Lookup("active")
	assert.True(t, ok)

	// a turn for an evicted user starts a fresh session
	s.RecordTurn(ctx, "idle", Turn{Query: "back"})
	fresh, ok := s.Lookup("idle")
	require.True(t, ok)
	assert.NotSame(t, old, fresh)
	assert.Len(t, s.GetRecent(ctx, "idle", 0), 1)
}

func TestSweepDisabled(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	s := NewStore(WithClock(clock.Now), WithTimeout(0))
	s.GetOrCreate(ctx, "alice")
	clock.Advance(48 * time.Hour)
	assert.Zero(t, s.Sweep(clock.Now()))
	assert.Equal(t, 1, s.Len())
}

func TestRunStopsOnCancel(t *testing.T) {
	s := NewStore(WithTimeout(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Millisecond)
		close(done)
	}()
	s.GetOrCreate(context.Background(), "alice")
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestJournalHydratesNewStore(t *testing.T) {
	ctx := context.Background()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	j := NewSQLJournal(database)

	first := NewStore(WithJournal(j))
	for i := 0; i < 3; i++ {
		first.RecordTurn(ctx, "alice", Turn{Query: fmt.Sprintf("q%d", i), Intent: "alarms"})
	}
	first.UpdateContext(ctx, "alice", func(c *Context) { c.Role = "technician" })

	second := NewStore(WithJournal(j), WithHistoryLimit(2))
	h := second.GetRecent(ctx, "alice", 0)
	require.Len(t, h, 2)
	assert.Equal(t, "q1", h[0].Query)
	assert.Equal(t, "q2", h[1].Query)
	assert.Equal(t, "technician", second.Context(ctx, "alice").Role)

	page, err := j.History(ctx, "alice", 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "q2", page[0].Query)
}

func TestGetDoesNotCreate(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.Get("ghost")
	require.ErrorIs(t, err, ErrUnknownUser)
	assert.Equal(t, 0, s.Len())

	s.RecordTurn(ctx, "alice", Turn{Query: "q", Response: "r", Device: "Chiller 1"})
	snap, err := s.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", snap.UserID)
	require.Len(t, snap.History, 1)
	assert.Equal(t, "Chiller 1", snap.Context.LastDevice)
}
