package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"personafeed/pkg/engine"
	"personafeed/pkg/holiday"
	"personafeed/pkg/ledger"
	"personafeed/pkg/store"
	"personafeed/pkg/templates"
	"personafeed/pkg/textgen"
)

type mockGenerator struct {
	GenerateFunc func(ctx context.Context, p *store.Persona) (*engine.Outcome, error)
	calls        []string
}

func (m *mockGenerator) Generate(ctx context.Context, p *store.Persona) (*engine.Outcome, error) {
	m.calls = append(m.calls, p.Name)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, p)
	}
	return &engine.Outcome{Status: engine.StatusPosted, Mode: templates.ModeOriginal, Post: &store.Post{ID: "post-" + p.Name}}, nil
}

type mockText struct {
	GenerateFunc func(ctx context.Context, req textgen.Request) (*textgen.Response, error)
}

func (m *mockText) Generate(ctx context.Context, req textgen.Request) (*textgen.Response, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return &textgen.Response{Content: "Back from the market with too many lemons #citrus", Usage: 80}, nil
}

type mockNotifier struct {
	mu      sync.Mutex
	reports []*Report
	notify  chan struct{}
}

func (m *mockNotifier) NotifyBatch(ctx context.Context, r *Report) error {
	m.mu.Lock()
	m.reports = append(m.reports, r)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

type fixture struct {
	store  *store.SQLiteStore
	bag    *ledger.MemoryBag
	ledger *ledger.Ledger
	now    time.Time
	sleeps []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	bag := ledger.NewMemoryBag()
	return &fixture{
		store:  s,
		bag:    bag,
		ledger: ledger.New(bag, ledger.Options{}),
		now:    time.Now().UTC(),
	}
}

func (f *fixture) persona(t *testing.T, owner, name string, lastPost time.Duration) *store.Persona {
	t.Helper()
	p := &store.Persona{
		OwnerID:   owner,
		Name:      name,
		Age:       40,
		Job:       "florist",
		Education: "high school",
		Location:  "Porto",
		Dreams:    "a greenhouse",
		Fears:     "frost",
		Likes:     "tulips",
		Dislikes:  "wilted roses",
	}
	if lastPost > 0 {
		p.LastPostAt = f.now.Add(-lastPost)
	}
	require.NoError(t, f.store.CreatePersona(context.Background(), p))
	return p
}

func (f *fixture) scheduler(gen Generator, notifier Notifier) *Scheduler {
	s := New(f.store, gen, f.ledger, notifier, Options{
		PostDelay: 5 * time.Minute,
		Rand:      rand.New(rand.NewSource(3)),
		Now:       func() time.Time { return f.now },
	})
	s.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return s
}

func TestRunBatch_EligiblePersonaPostsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.persona(t, "acct1", "p1", 2*time.Hour)

	eng := engine.New(engine.Deps{
		Store:     f.store,
		Ledger:    f.ledger,
		Text:      &mockText{},
		Holidays:  holiday.NewProvider(holiday.Calendar, rand.New(rand.NewSource(1))),
		Templates: templates.NewSelector(templates.DefaultPools(), rand.New(rand.NewSource(1))),
	}, engine.Options{Model: "post-model", Rand: rand.New(rand.NewSource(1))})

	s := New(f.store, eng, f.ledger, nil, Options{})
	started := time.Now().UTC()
	report, err := s.RunBatch(ctx, time.Hour, 2)
	finished := time.Now().UTC()
	require.NoError(t, err)

	assert.Equal(t, 1, report.Eligible)
	assert.Equal(t, 1, report.Posted)
	assert.Zero(t, report.Failed)

	got, err := f.store.GetPersona(ctx, p1.ID)
	require.NoError(t, err)
	assert.False(t, got.LastPostAt.Before(started.Truncate(time.Millisecond)))
	assert.False(t, got.LastPostAt.After(finished))

	n, err := f.store.CountPosts(ctx, store.PostFilter{AuthorID: p1.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	acct, err := f.ledger.Account(ctx, "acct1")
	require.NoError(t, err)
	assert.Equal(t, int64(80), acct.Used)
}

func TestRunBatch_CooldownFiltersRecentPosters(t *testing.T) {
	f := newFixture(t)
	f.persona(t, "acct1", "fresh", 5*time.Minute)
	f.persona(t, "acct1", "stale", 3*time.Hour)
	f.persona(t, "acct1", "never", 0)

	gen := &mockGenerator{}
	report, err := f.scheduler(gen, nil).RunBatch(context.Background(), time.Hour, 10)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Eligible)
	assert.ElementsMatch(t, []string{"stale", "never"}, gen.calls)
}

func TestRunBatch_CapAndDelay(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		f.persona(t, "acct1", name, 2*time.Hour)
	}

	gen := &mockGenerator{}
	report, err := f.scheduler(gen, nil).RunBatch(context.Background(), time.Hour, 2)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Eligible)
	assert.Equal(t, 2, report.Posted)
	assert.Len(t, gen.calls, 2)
	// Delay only between posts, not after the last one
	assert.Equal(t, []time.Duration{5 * time.Minute}, f.sleeps)
}

func TestRunBatch_FailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"a", "b", "c"} {
		f.persona(t, "acct1", name, 2*time.Hour)
	}

	first := true
	gen := &mockGenerator{GenerateFunc: func(ctx context.Context, p *store.Persona) (*engine.Outcome, error) {
		if first {
			first = false
			return nil, errors.New("text API timeout")
		}
		return &engine.Outcome{Status: engine.StatusPosted, Post: &store.Post{ID: "x"}}, nil
	}}

	report, err := f.scheduler(gen, nil).RunBatch(context.Background(), time.Hour, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Posted)
	assert.Len(t, gen.calls, 3)
	assert.Equal(t, ResultFailed, report.Entries[0].Result)
	assert.Contains(t, report.Entries[0].Detail, "timeout")
}

func TestRunBatch_OverQuotaOwnerSkipped(t *testing.T) {
	f := newFixture(t)
	f.bag.Set("broke", ledger.FieldQuota, "1000")
	f.bag.Set("broke", ledger.FieldUsed, "1000")
	f.persona(t, "broke", "poor", 2*time.Hour)
	f.persona(t, "acct1", "rich", 2*time.Hour)

	gen := &mockGenerator{}
	report, err := f.scheduler(gen, nil).RunBatch(context.Background(), time.Hour, 5)
	require.NoError(t, err)

	assert.Equal(t, []string{"rich"}, gen.calls)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Posted)

	n, err := f.store.CountPosts(context.Background(), store.PostFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)

	acct, err := f.ledger.Account(context.Background(), "broke")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), acct.Used)
}

func TestRunBatch_EngineSkipCounted(t *testing.T) {
	f := newFixture(t)
	f.persona(t, "acct1", "a", 2*time.Hour)

	gen := &mockGenerator{GenerateFunc: func(ctx context.Context, p *store.Persona) (*engine.Outcome, error) {
		return &engine.Outcome{Status: engine.StatusSkipped, Reason: "budget"}, nil
	}}
	report, err := f.scheduler(gen, nil).RunBatch(context.Background(), time.Hour, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, f.sleeps)
}

func TestRunBatch_CancelDuringDelay(t *testing.T) {
	f := newFixture(t)
	f.persona(t, "acct1", "a", 2*time.Hour)
	f.persona(t, "acct1", "b", 2*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	gen := &mockGenerator{}
	s := f.scheduler(gen, nil)
	s.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}

	report, err := s.RunBatch(ctx, time.Hour, 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Posted)
	assert.Len(t, gen.calls, 1)
}

func TestRun_NotifiesAndStops(t *testing.T) {
	f := newFixture(t)
	f.persona(t, "acct1", "a", 2*time.Hour)

	notifier := &mockNotifier{notify: make(chan struct{}, 1)}
	s := f.scheduler(&mockGenerator{}, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Hour, time.Hour, 2) }()

	select {
	case <-notifier.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a batch report")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.reports, 1)
	assert.Equal(t, 1, notifier.reports[0].Posted)
}

func TestRun_RejectsNonPositiveInterval(t *testing.T) {
	f := newFixture(t)
	gen := &mockGenerator{}
	s := f.scheduler(gen, nil)

	assert.Error(t, s.Run(context.Background(), 0, time.Hour, 2))
	assert.Error(t, s.Run(context.Background(), -time.Minute, time.Hour, 2))
	assert.Empty(t, gen.calls)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), 0))
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
