package scheduler

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"personafeed/pkg/engine"
	"personafeed/pkg/metrics"
	"personafeed/pkg/store"
)

type Generator interface {
	Generate(ctx context.Context, p *store.Persona) (*engine.Outcome, error)
}

type Budget interface {
	CanPost(ctx context.Context, accountID string) (bool, error)
}

// Notifier receives the report of every scheduled run.
type Notifier interface {
	NotifyBatch(ctx context.Context, r *Report) error
}

type Result string

const (
	ResultPosted  Result = "posted"
	ResultSkipped Result = "skipped"
	ResultFailed  Result = "failed"
)

// Entry records what happened to one persona in a run.
type Entry struct {
	PersonaID   string
	PersonaName string
	Result      Result
	Mode        string
	Detail      string
}

type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Eligible   int
	Considered int
	Posted     int
	Skipped    int
	Failed     int
	Entries    []Entry
}

func (r *Report) add(e Entry) {
	switch e.Result {
	case ResultPosted:
		r.Posted++
	case ResultSkipped:
		r.Skipped++
	case ResultFailed:
		r.Failed++
	}
	r.Entries = append(r.Entries, e)
}

type Options struct {
	// PostDelay is slept after each successful post while more work remains.
	PostDelay time.Duration
	Rand      *rand.Rand
	Now       func() time.Time
}

type Scheduler struct {
	store    store.Store
	gen      Generator
	budget   Budget
	notifier Notifier
	opts     Options
	rng      *rand.Rand
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(s store.Store, gen Generator, budget Budget, notifier Notifier, opts Options) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scheduler{
		store:    s,
		gen:      gen,
		budget:   budget,
		notifier: notifier,
		opts:     opts,
		rng:      rng,
		sleep:    sleepContext,
	}
}

// RunBatch posts for up to maxPosts personas that have not posted within
// cooldown. Personas are processed one at a time in random order and a
// failure only affects the persona it happened on.
func (s *Scheduler) RunBatch(ctx context.Context, cooldown time.Duration, maxPosts int) (*Report, error) {
	report := &Report{StartedAt: s.opts.Now()}

	personas, err := s.store.ListPersonas(ctx, store.PersonaFilter{LastPostBefore: report.StartedAt.Add(-cooldown)})
	if err != nil {
		return report, fmt.Errorf("list eligible personas: %w", err)
	}
	report.Eligible = len(personas)
	s.rng.Shuffle(len(personas), func(i, j int) { personas[i], personas[j] = personas[j], personas[i] })

	log.Printf("[Scheduler] %d persona(s) eligible (cooldown %s, cap %d)", len(personas), cooldown, maxPosts)

	for i := range personas {
		if report.Posted >= maxPosts {
			break
		}
		if err := ctx.Err(); err != nil {
			return s.finish(report), err
		}

		p := &personas[i]
		report.Considered++
		entry := s.process(ctx, p)
		report.add(entry)

		if entry.Result == ResultPosted && report.Posted < maxPosts && i < len(personas)-1 {
			if err := s.sleep(ctx, s.opts.PostDelay); err != nil {
				return s.finish(report), err
			}
		}
	}

	return s.finish(report), nil
}

func (s *Scheduler) process(ctx context.Context, p *store.Persona) Entry {
	entry := Entry{PersonaID: p.ID, PersonaName: p.Name}

	ok, err := s.budget.CanPost(ctx, p.OwnerID)
	if err != nil {
		log.Printf("[Scheduler] Budget check failed for %s: %v", p.Name, err)
		entry.Result, entry.Detail = ResultFailed, err.Error()
		return entry
	}
	if !ok {
		log.Printf("[Scheduler] Owner %s of %s is over quota, skipping", p.OwnerID, p.Name)
		entry.Result, entry.Detail = ResultSkipped, "budget"
		return entry
	}

	out, err := s.gen.Generate(ctx, p)
	if err != nil {
		log.Printf("[Scheduler] Generation failed for %s: %v", p.Name, err)
		entry.Result, entry.Detail = ResultFailed, err.Error()
		return entry
	}
	if out.Status == engine.StatusSkipped {
		entry.Result, entry.Detail = ResultSkipped, out.Reason
		return entry
	}

	entry.Result = ResultPosted
	entry.Mode = out.Mode.String()
	if out.Post != nil {
		entry.Detail = out.Post.ID
	}
	return entry
}

func (s *Scheduler) finish(r *Report) *Report {
	r.FinishedAt = s.opts.Now()
	metrics.ObserveBatch(r.Posted, r.Skipped, r.Failed)
	log.Printf("[Scheduler] Batch done: posted=%d skipped=%d failed=%d in %s",
		r.Posted, r.Skipped, r.Failed, r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	return r
}

// Run calls RunBatch immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval, cooldown time.Duration, maxPosts int) error {
	if interval <= 0 {
		return fmt.Errorf("batch interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := s.RunBatch(ctx, cooldown, maxPosts)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[Scheduler] Batch error: %v", err)
		}
		if s.notifier != nil && report != nil {
			if err := s.notifier.NotifyBatch(ctx, report); err != nil {
				log.Printf("[Scheduler] Failed to send batch report: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
