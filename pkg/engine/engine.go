package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"personafeed/pkg/holiday"
	"personafeed/pkg/imagegen"
	"personafeed/pkg/ledger"
	"personafeed/pkg/media"
	"personafeed/pkg/metrics"
	"personafeed/pkg/news"
	"personafeed/pkg/ratelimit"
	"personafeed/pkg/store"
	"personafeed/pkg/templates"
	"personafeed/pkg/textgen"
)

var (
	// ErrIncompletePersona aborts generation before any paid call.
	ErrIncompletePersona = errors.New("persona is missing required fields")
	ErrRateLimited       = ratelimit.ErrRateLimited
	ErrNotOwner          = errors.New("persona belongs to another account")
)

// FallbackContent is posted when the model returns nothing.
const FallbackContent = "Just thinking out loud today. More soon!"

type TextGenerator interface {
	Generate(ctx context.Context, req textgen.Request) (*textgen.Response, error)
}

type ImageGenerator interface {
	Generate(ctx context.Context, req imagegen.Request) (*imagegen.Image, error)
}

type NewsFetcher interface {
	FetchRelevantArticle(ctx context.Context, topic string) (*news.Article, error)
}

type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	DeleteMany(ctx context.Context, keys []string) error
}

type ImageNormalizer interface {
	Normalize(data []byte) ([]byte, *media.Info, error)
}

// Budget is the slice of the ledger the engine consults.
type Budget interface {
	CanPost(ctx context.Context, accountID string) (bool, error)
	HasImageHeadroom(ctx context.Context, accountID string) (bool, error)
	Debit(ctx context.Context, accountID string, cost int64) error
}

type HolidayProvider interface {
	Lookup(now time.Time) holiday.Context
}

type TemplateSelector interface {
	Select(mode templates.Mode, holidayActive bool) string
}

type Limiter interface {
	Allow(accountID string) error
}

// Deps are the collaborators of an Engine. Images, News, Storage,
// Normalizer and Limiter are optional.
type Deps struct {
	Store      store.Store
	Ledger     Budget
	Text       TextGenerator
	Images     ImageGenerator
	News       NewsFetcher
	Storage    Uploader
	Normalizer ImageNormalizer
	Holidays   HolidayProvider
	Templates  TemplateSelector
	Limiter    Limiter
	Costs      ledger.CostModel
}

type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	// ImageChance is the percentage of posts that attempt an image.
	ImageChance   int
	DisableSafety bool
	// RecentWindow is how many recent posts reply targets are drawn from.
	RecentWindow int
	CallTimeout  time.Duration
	Rand         *rand.Rand
	Now          func() time.Time
}

type Status int

const (
	StatusPosted Status = iota
	StatusSkipped
)

func (s Status) String() string {
	if s == StatusSkipped {
		return "skipped"
	}
	return "posted"
}

// Outcome is the result of one Generate call that did not fail.
type Outcome struct {
	Status Status
	Reason string
	Mode   templates.Mode
	Post   *store.Post
	Cost   int64
}

type Engine struct {
	deps Deps
	opts Options

	mu   sync.Mutex
	rng  *rand.Rand
	intn func(n int) int
}

func New(deps Deps, opts Options) *Engine {
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = 25
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 120 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 400
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	e := &Engine{deps: deps, opts: opts, rng: rng}
	e.intn = e.randIntn
	return e
}

func (e *Engine) randIntn(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Intn(n)
}

// Generate runs the full pipeline for one persona. A budget shortfall is
// reported as a skipped Outcome; validation and text-generation failures are
// returned as errors.
func (e *Engine) Generate(ctx context.Context, p *store.Persona) (*Outcome, error) {
	if missing := p.MissingFields(); len(missing) > 0 {
		log.Printf("[Engine] Persona %s (%s) is missing %s, aborting", p.ID, p.Name, strings.Join(missing, ", "))
		return nil, fmt.Errorf("%w: %s", ErrIncompletePersona, strings.Join(missing, ", "))
	}

	// GenerateNow reaches here without the scheduler's gate in front of it.
	ok, err := e.deps.Ledger.CanPost(ctx, p.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("check budget: %w", err)
	}
	if !ok {
		log.Printf("[Engine] Account %s is over quota, skipping persona %s", p.OwnerID, p.Name)
		return &Outcome{Status: StatusSkipped, Reason: "budget"}, nil
	}

	r := &run{Context: Context{Persona: p}, start: e.opts.Now()}
	if err := e.pipeline().execute(ctx, r); err != nil {
		metrics.ObserveGeneration(r.mode.String(), "failed", r.start)
		return nil, err
	}
	metrics.ObserveGeneration(r.mode.String(), "posted", r.start)

	log.Printf("[Engine] %s posted a %s (cost=%d, image=%t)", p.Name, r.mode, r.cost, r.image != "")
	return &Outcome{Status: StatusPosted, Mode: r.mode, Post: r.post, Cost: r.cost}, nil
}

// GenerateNow is the user-initiated path: it enforces the per-account action
// rate and ownership before generating.
func (e *Engine) GenerateNow(ctx context.Context, accountID, personaID string) (*Outcome, error) {
	if e.deps.Limiter != nil {
		if err := e.deps.Limiter.Allow(accountID); err != nil {
			return nil, err
		}
	}
	p, err := e.deps.Store.GetPersona(ctx, personaID)
	if err != nil {
		return nil, fmt.Errorf("load persona %s: %w", personaID, err)
	}
	if p.OwnerID != accountID {
		return nil, ErrNotOwner
	}
	return e.Generate(ctx, p)
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.CallTimeout)
}
