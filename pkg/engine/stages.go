package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"personafeed/pkg/holiday"
	"personafeed/pkg/imagegen"
	"personafeed/pkg/media"
	"personafeed/pkg/metrics"
	"personafeed/pkg/news"
	"personafeed/pkg/storage"
	"personafeed/pkg/store"
	"personafeed/pkg/templates"
	"personafeed/pkg/textgen"
)

var hashtagRegex = regexp.MustCompile(`#\w+`)

// Context is everything the prompt is built from for one invocation.
type Context struct {
	Persona           *store.Persona
	Parent            *store.Post
	ParentAuthor      string
	Grandparent       *store.Post
	GrandparentAuthor string
	Article           *news.Article
	Holiday           holiday.Context
}

// run is the mutable state threaded through the stages.
type run struct {
	Context
	start    time.Time
	mode     templates.Mode
	template string
	prompt   string
	content  string
	hashtags string
	image    string
	imageKey string
	cost     int64
	post     *store.Post
}

type stage struct {
	name string
	fn   func(ctx context.Context, r *run) error
}

type pipeline []stage

func (p pipeline) execute(ctx context.Context, r *run) error {
	for _, s := range p {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.fn(ctx, r); err != nil {
			return fmt.Errorf("stage %s: %w", s.name, err)
		}
	}
	return nil
}

func (e *Engine) pipeline() pipeline {
	return pipeline{
		{"select_mode", e.selectMode},
		{"build_context", e.buildContext},
		{"augment_news", e.augmentNews},
		{"select_template", e.selectTemplate},
		{"generate_text", e.generateText},
		{"extract_hashtags", e.extractHashtags},
		{"generate_image", e.generateImage},
		{"persist", e.persist},
		{"update_ledger", e.updateLedger},
	}
}

// selectMode: 10% news-reactive, 40% original, 50% reply.
func (e *Engine) selectMode(_ context.Context, r *run) error {
	switch n := e.intn(10); {
	case n == 0:
		r.mode = templates.ModeNews
	case n < 5:
		r.mode = templates.ModeOriginal
	default:
		r.mode = templates.ModeReply
	}
	return nil
}

func (e *Engine) buildContext(ctx context.Context, r *run) error {
	r.Holiday = e.deps.Holidays.Lookup(r.start)

	if r.mode != templates.ModeReply {
		return nil
	}

	recent, err := e.deps.Store.ListPosts(ctx, store.PostFilter{Limit: e.opts.RecentWindow})
	if err != nil {
		log.Printf("[Engine] Failed to load recent posts: %v, falling back to original post", err)
		r.mode = templates.ModeOriginal
		return nil
	}

	candidates := make([]store.Post, 0, len(recent))
	for _, p := range recent {
		if p.AuthorID != r.Persona.ID {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		r.mode = templates.ModeOriginal
		return nil
	}

	target := candidates[e.intn(len(candidates))]
	r.Parent = &target
	r.ParentAuthor = e.authorName(ctx, target.AuthorID)

	if !target.IsReply() {
		return nil
	}

	r.mode = templates.ModeThreadedReply
	gp, err := e.deps.Store.GetPost(ctx, target.OriginalPostID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[Engine] Failed to load post %s: %v", target.OriginalPostID, err)
		}
		return nil
	}
	r.Grandparent = gp
	r.GrandparentAuthor = e.authorName(ctx, gp.AuthorID)
	return nil
}

func (e *Engine) authorName(ctx context.Context, id string) string {
	p, err := e.deps.Store.GetPersona(ctx, id)
	if err != nil {
		return unknownAuthor
	}
	return p.Name
}

func (e *Engine) augmentNews(ctx context.Context, r *run) error {
	if r.mode != templates.ModeNews {
		return nil
	}
	if e.deps.News == nil {
		r.mode = templates.ModeOriginal
		return nil
	}

	topic := e.pickTopic(r.Persona)
	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	article, err := e.deps.News.FetchRelevantArticle(callCtx, topic)
	if err != nil {
		log.Printf("[Engine] News lookup for %q failed: %v, falling back to original post", topic, err)
		r.mode = templates.ModeOriginal
		return nil
	}
	if article == nil {
		log.Printf("[Engine] No usable article for %q, falling back to original post", topic)
		r.mode = templates.ModeOriginal
		return nil
	}
	r.Article = article
	return nil
}

// pickTopic draws one comma-separated like, falling back to the job.
func (e *Engine) pickTopic(p *store.Persona) string {
	var topics []string
	for _, t := range strings.Split(p.Likes, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return p.Job
	}
	return topics[e.intn(len(topics))]
}

func (e *Engine) selectTemplate(_ context.Context, r *run) error {
	r.template = e.deps.Templates.Select(r.mode, r.Holiday.Active())
	r.prompt = templates.Fill(r.template, placeholderValues(&r.Context))
	return nil
}

func (e *Engine) generateText(ctx context.Context, r *run) error {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	resp, err := e.deps.Text.Generate(callCtx, textgen.Request{
		Model:       e.opts.Model,
		Temperature: e.opts.Temperature,
		MaxTokens:   e.opts.MaxTokens,
		Messages:    buildMessages(r.mode, &r.Context, r.prompt),
	})
	if err != nil {
		return fmt.Errorf("generate text: %w", err)
	}

	r.content = strings.TrimSpace(resp.Content)
	if r.content == "" {
		log.Printf("[Engine] Empty completion for %s, using fallback content", r.Persona.Name)
		r.content = FallbackContent
	}
	r.cost += e.deps.Costs.Text(e.opts.Model, resp.Usage)
	return nil
}

func (e *Engine) extractHashtags(_ context.Context, r *run) error {
	r.hashtags = ExtractHashtags(r.content)
	return nil
}

// ExtractHashtags joins every #word token in text with ", ".
func ExtractHashtags(text string) string {
	return strings.Join(hashtagRegex.FindAllString(text, -1), ", ")
}

// generateImage never fails the run: any error leaves the post without an image.
func (e *Engine) generateImage(ctx context.Context, r *run) error {
	if e.deps.Images == nil || e.deps.Storage == nil {
		return nil
	}
	if e.intn(100) >= e.opts.ImageChance {
		return nil
	}

	ok, err := e.deps.Ledger.HasImageHeadroom(ctx, r.Persona.OwnerID)
	if err != nil {
		log.Printf("[Engine] Failed to check image headroom for %s: %v", r.Persona.OwnerID, err)
		return nil
	}
	if !ok {
		return nil
	}

	url, key, err := e.produceImage(ctx, r)
	if err != nil {
		log.Printf("[Engine] Image step failed for %s, posting without image: %v", r.Persona.Name, err)
		metrics.ImageFailures.Inc()
		return nil
	}
	r.image, r.imageKey = url, key
	r.cost += e.deps.Costs.Image(true)
	metrics.ImagesProduced.Inc()
	return nil
}

func (e *Engine) produceImage(ctx context.Context, r *run) (string, string, error) {
	genCtx, cancel := e.callContext(ctx)
	defer cancel()

	img, err := e.deps.Images.Generate(genCtx, imagegen.Request{
		Prompt:               imagePrompt(r.content, r.Persona.PhysicalDescription),
		DisableSafetyChecker: e.opts.DisableSafety,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate: %w", err)
	}

	data, contentType := img.Data, img.ContentType
	if e.deps.Normalizer != nil {
		data, _, err = e.deps.Normalizer.Normalize(data)
		if err != nil {
			return "", "", fmt.Errorf("normalize: %w", err)
		}
		contentType = media.ContentTypeJPEG
	}

	upCtx, cancelUp := e.callContext(ctx)
	defer cancelUp()

	key := storage.PostImageKey(r.Persona.Name)
	url, err := e.deps.Storage.Upload(upCtx, key, data, contentType)
	if err != nil {
		return "", "", fmt.Errorf("upload: %w", err)
	}
	return url, key, nil
}

func (e *Engine) persist(ctx context.Context, r *run) error {
	post := &store.Post{
		AuthorID:  r.Persona.ID,
		Content:   r.content,
		Image:     r.image,
		Hashtags:  r.hashtags,
		Cost:      r.cost,
		CreatedAt: e.opts.Now().UTC(),
	}
	if r.Parent != nil {
		post.OriginalPostID = r.Parent.ID
	}
	if err := e.deps.Store.CreatePost(ctx, post); err != nil {
		e.discardImage(ctx, r)
		e.debit(ctx, r)
		return fmt.Errorf("create post: %w", err)
	}
	r.post = post
	return nil
}

// discardImage removes an uploaded image no post will reference.
func (e *Engine) discardImage(ctx context.Context, r *run) {
	if r.imageKey == "" {
		return
	}
	if err := e.deps.Storage.DeleteMany(ctx, []string{r.imageKey}); err != nil {
		log.Printf("[Engine] Failed to delete orphaned image %s: %v", r.imageKey, err)
	}
}

// updateLedger runs after the post exists and never fails the run.
func (e *Engine) updateLedger(ctx context.Context, r *run) error {
	if err := e.deps.Store.RecordPersonaPost(ctx, r.Persona.ID, r.cost, r.post.CreatedAt); err != nil {
		log.Printf("[Engine] Failed to record post %s on persona %s: %v", r.post.ID, r.Persona.ID, err)
	}
	r.Persona.Tokens += r.cost
	if r.post.CreatedAt.After(r.Persona.LastPostAt) {
		r.Persona.LastPostAt = r.post.CreatedAt
	}
	e.debit(ctx, r)
	return nil
}

func (e *Engine) debit(ctx context.Context, r *run) {
	if r.cost <= 0 {
		return
	}
	if err := e.deps.Ledger.Debit(ctx, r.Persona.OwnerID, r.cost); err != nil {
		log.Printf("[Engine] Failed to debit %d from account %s: %v", r.cost, r.Persona.OwnerID, err)
		return
	}
	metrics.AddTokens(r.cost)
}
