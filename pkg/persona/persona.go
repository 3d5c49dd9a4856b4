package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"personafeed/pkg/engine"
	"personafeed/pkg/imagegen"
	"personafeed/pkg/ledger"
	"personafeed/pkg/media"
	"personafeed/pkg/storage"
	"personafeed/pkg/store"
	"personafeed/pkg/textgen"
)

// ErrIncompleteProfile is returned when the generated profile lacks fields
// posting depends on. The generation cost is still debited.
var ErrIncompleteProfile = errors.New("generated profile is incomplete")

type Budget interface {
	CanCreatePersona(ctx context.Context, accountID string) (bool, error)
	Debit(ctx context.Context, accountID string, cost int64) error
}

// Bucket uploads profile images and purges a persona's objects.
type Bucket interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	PurgePrefix(ctx context.Context, prefix string) (int, error)
}

type Deps struct {
	Store      store.Store
	Ledger     Budget
	Text       engine.TextGenerator
	Images     engine.ImageGenerator
	Normalizer engine.ImageNormalizer
	Bucket     Bucket
	Limiter    engine.Limiter
	Costs      ledger.CostModel
}

type Options struct {
	Model         string
	Temperature   float64
	MaxTokens     int64
	DisableSafety bool
	CallTimeout   time.Duration
}

type Request struct {
	AccountID string
	Name      string
	Handle    string
	// Seed is optional free text steering the profile.
	Seed string
}

type Result struct {
	Persona *store.Persona
	Skipped bool
	Cost    int64
}

type Creator struct {
	deps Deps
	opts Options
}

func NewCreator(deps Deps, opts Options) *Creator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 800
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 120 * time.Second
	}
	return &Creator{deps: deps, opts: opts}
}

// Create generates and stores a persona. An account below the creation
// minimum gets a skipped Result and no charge.
func (c *Creator) Create(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("persona name is required")
	}
	if c.deps.Limiter != nil {
		if err := c.deps.Limiter.Allow(req.AccountID); err != nil {
			return nil, err
		}
	}

	ok, err := c.deps.Ledger.CanCreatePersona(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("check budget: %w", err)
	}
	if !ok {
		log.Printf("[Persona] Account %s lacks the balance to create %q, skipping", req.AccountID, req.Name)
		return &Result{Skipped: true}, nil
	}

	p, cost, err := c.generateProfile(ctx, req)
	if err != nil {
		return nil, err
	}

	if missing := p.MissingFields(); len(missing) > 0 {
		c.debit(ctx, req.AccountID, cost)
		return nil, fmt.Errorf("%w: missing %s", ErrIncompleteProfile, strings.Join(missing, ", "))
	}

	if url, err := c.profileImage(ctx, p); err != nil {
		log.Printf("[Persona] Profile image for %s failed, continuing without one: %v", p.Name, err)
	} else if url != "" {
		p.ProfileImage = url
		cost += c.deps.Costs.Image(true)
	}

	if err := c.deps.Store.CreatePersona(ctx, p); err != nil {
		c.debit(ctx, req.AccountID, cost)
		return nil, fmt.Errorf("create persona: %w", err)
	}
	c.debit(ctx, req.AccountID, cost)

	log.Printf("[Persona] Created %s (%s) for account %s, cost=%d", p.Name, p.ID, req.AccountID, cost)
	return &Result{Persona: p, Cost: cost}, nil
}

func (c *Creator) debit(ctx context.Context, accountID string, cost int64) {
	if err := c.deps.Ledger.Debit(ctx, accountID, cost); err != nil {
		log.Printf("[Persona] Failed to debit %d from account %s: %v", cost, accountID, err)
	}
}

const profileSystemPrompt = `You invent believable, specific people for a social network.
Reply with a single JSON object and nothing else, using these keys:
age (number), job, education, location, bio, goals, dreams, fears, likes, dislikes, hobbies,
physical_description (one sentence, visual details only), summarized_bio (one sentence).
likes, dislikes and hobbies are short comma-separated lists.`

func (c *Creator) generateProfile(ctx context.Context, req Request) (*store.Persona, int64, error) {
	user := fmt.Sprintf("Create a persona named %s.", req.Name)
	if seed := strings.TrimSpace(req.Seed); seed != "" {
		user += " Use this as a starting point: " + seed
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	resp, err := c.deps.Text.Generate(callCtx, textgen.Request{
		Model:       c.opts.Model,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
		Messages: []textgen.Message{
			{Role: "system", Content: profileSystemPrompt},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("generate profile: %w", err)
	}
	cost := c.deps.Costs.Text(c.opts.Model, resp.Usage)

	prof, err := parseProfile(resp.Content)
	if err != nil {
		c.debit(ctx, req.AccountID, cost)
		return nil, 0, err
	}

	handle := req.Handle
	if handle == "" {
		handle = "@" + storage.Slug(req.Name)
	}
	p := &store.Persona{
		OwnerID:             req.AccountID,
		Name:                req.Name,
		Handle:              handle,
		Age:                 int(prof.Age),
		Job:                 string(prof.Job),
		Education:           string(prof.Education),
		Location:            string(prof.Location),
		Bio:                 string(prof.Bio),
		Goals:               string(prof.Goals),
		Dreams:              string(prof.Dreams),
		Fears:               string(prof.Fears),
		Likes:               string(prof.Likes),
		Dislikes:            string(prof.Dislikes),
		Hobbies:             string(prof.Hobbies),
		PhysicalDescription: string(prof.PhysicalDescription),
		SummarizedBio:       string(prof.SummarizedBio),
	}
	return p, cost, nil
}

func (c *Creator) profileImage(ctx context.Context, p *store.Persona) (string, error) {
	if c.deps.Images == nil || c.deps.Bucket == nil {
		return "", nil
	}

	genCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	prompt := fmt.Sprintf("Casual profile photo of a %d-year-old %s from %s. %s",
		p.Age, p.Job, p.Location, p.PhysicalDescription)
	img, err := c.deps.Images.Generate(genCtx, imagegen.Request{Prompt: prompt, DisableSafetyChecker: c.opts.DisableSafety})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	data, contentType := img.Data, img.ContentType
	if c.deps.Normalizer != nil {
		if data, _, err = c.deps.Normalizer.Normalize(data); err != nil {
			return "", fmt.Errorf("normalize: %w", err)
		}
		contentType = media.ContentTypeJPEG
	}

	upCtx, cancelUp := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancelUp()
	return c.deps.Bucket.Upload(upCtx, storage.ProfileImageKey(p.Name), data, contentType)
}

// Delete removes the persona, its posts and its stored objects. Objects are
// left in place when another persona maps to the same key prefix.
func (c *Creator) Delete(ctx context.Context, personaID string) (int, error) {
	p, err := c.deps.Store.GetPersona(ctx, personaID)
	if err != nil {
		return 0, fmt.Errorf("load persona %s: %w", personaID, err)
	}
	if err := c.deps.Store.DeletePersona(ctx, personaID); err != nil {
		return 0, fmt.Errorf("delete persona %s: %w", personaID, err)
	}
	if c.deps.Bucket == nil {
		return 0, nil
	}

	prefix := storage.PersonaPrefix(p.Name)
	shared, err := c.prefixShared(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if shared {
		log.Printf("[Persona] Prefix %s is still used by another persona, keeping objects", prefix)
		return 0, nil
	}

	n, err := c.deps.Bucket.PurgePrefix(ctx, prefix)
	if err != nil {
		return n, fmt.Errorf("purge %s: %w", prefix, err)
	}
	log.Printf("[Persona] Deleted %s (%s) and %d stored object(s)", p.Name, p.ID, n)
	return n, nil
}

func (c *Creator) prefixShared(ctx context.Context, prefix string) (bool, error) {
	others, err := c.deps.Store.ListPersonas(ctx, store.PersonaFilter{})
	if err != nil {
		return false, fmt.Errorf("list personas: %w", err)
	}
	for _, o := range others {
		if storage.PersonaPrefix(o.Name) == prefix {
			return true, nil
		}
	}
	return false, nil
}

type profile struct {
	Age                 flexInt    `json:"age"`
	Job                 flexString `json:"job"`
	Education           flexString `json:"education"`
	Location            flexString `json:"location"`
	Bio                 flexString `json:"bio"`
	Goals               flexString `json:"goals"`
	Dreams              flexString `json:"dreams"`
	Fears               flexString `json:"fears"`
	Likes               flexString `json:"likes"`
	Dislikes            flexString `json:"dislikes"`
	Hobbies             flexString `json:"hobbies"`
	PhysicalDescription flexString `json:"physical_description"`
	SummarizedBio       flexString `json:"summarized_bio"`
}

// parseProfile extracts the outermost JSON object, tolerating code fences
// and chatter around it.
func parseProfile(content string) (*profile, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("profile response contains no JSON object")
	}
	var p profile
	if err := json.Unmarshal([]byte(content[start:end+1]), &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	return &p, nil
}

// flexString accepts a string or a list of strings.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("expected string or list, got %s", string(b))
	}
	*f = flexString(strings.Join(list, ", "))
	return nil
}

// flexInt accepts a number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("expected number, got %s", string(b))
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("expected number, got %q", s)
	}
	*f = flexInt(v)
	return nil
}
