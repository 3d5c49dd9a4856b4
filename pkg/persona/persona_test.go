package persona

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"personafeed/pkg/imagegen"
	"personafeed/pkg/ledger"
	"personafeed/pkg/ratelimit"
	"personafeed/pkg/store"
	"personafeed/pkg/textgen"
)

const profileJSON = "Here you go:\n```json\n" + `{
  "age": "34",
  "job": "marine biologist",
  "education": "MSc in oceanography",
  "location": "Halifax",
  "bio": "Spends more time underwater than on land.",
  "goals": "publish a field guide",
  "dreams": "dive the Mariana Trench",
  "fears": "deep water at night",
  "likes": ["kelp forests", "strong coffee"],
  "dislikes": "plastic straws",
  "hobbies": "sea glass hunting",
  "physical_description": "short grey hair, weathered rain jacket",
  "summarized_bio": "Halifax marine biologist obsessed with kelp."
}` + "\n```"

type mockText struct {
	GenerateFunc func(ctx context.Context, req textgen.Request) (*textgen.Response, error)
	calls        []textgen.Request
}

func (m *mockText) Generate(ctx context.Context, req textgen.Request) (*textgen.Response, error) {
	m.calls = append(m.calls, req)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return &textgen.Response{Content: profileJSON, Usage: 1000}, nil
}

type mockImages struct {
	GenerateFunc func(ctx context.Context, req imagegen.Request) (*imagegen.Image, error)
	calls        int
}

func (m *mockImages) Generate(ctx context.Context, req imagegen.Request) (*imagegen.Image, error) {
	m.calls++
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return &imagegen.Image{Data: []byte("img"), ContentType: "image/png"}, nil
}

type mockBucket struct {
	UploadFunc func(ctx context.Context, key string, data []byte, contentType string) (string, error)
	uploads    []string
	purged     []string
}

func (m *mockBucket) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.uploads = append(m.uploads, key)
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, key, data, contentType)
	}
	return "https://cdn.example.com/" + key, nil
}

func (m *mockBucket) PurgePrefix(ctx context.Context, prefix string) (int, error) {
	m.purged = append(m.purged, prefix)
	return 3, nil
}

type failingStore struct {
	*store.SQLiteStore
	CreatePersonaFunc func(ctx context.Context, p *store.Persona) error
}

func (s *failingStore) CreatePersona(ctx context.Context, p *store.Persona) error {
	return s.CreatePersonaFunc(ctx, p)
}

type fixture struct {
	store   *store.SQLiteStore
	bag     *ledger.MemoryBag
	ledger  *ledger.Ledger
	text    *mockText
	images  *mockImages
	bucket  *mockBucket
	creator *Creator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		store:  s,
		bag:    ledger.NewMemoryBag(),
		text:   &mockText{},
		images: &mockImages{},
		bucket: &mockBucket{},
	}
	f.ledger = ledger.New(f.bag, ledger.Options{})
	f.creator = NewCreator(Deps{
		Store:  s,
		Ledger: f.ledger,
		Text:   f.text,
		Images: f.images,
		Bucket: f.bucket,
		Costs: ledger.CostModel{
			Multipliers:    map[string]int64{"profile-model": 20},
			ImageSurcharge: 5000,
		},
	}, Options{Model: "profile-model"})
	return f
}

func (f *fixture) used(t *testing.T) int64 {
	t.Helper()
	acct, err := f.ledger.Account(context.Background(), "acct1")
	require.NoError(t, err)
	return acct.Used
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.creator.Create(ctx, Request{AccountID: "acct1", Name: "Mara Quinn", Seed: "loves the ocean"})
	require.NoError(t, err)
	require.False(t, res.Skipped)

	p := res.Persona
	assert.Equal(t, 34, p.Age)
	assert.Equal(t, "kelp forests, strong coffee", p.Likes)
	assert.Equal(t, "@mara-quinn", p.Handle)
	assert.Empty(t, p.MissingFields())
	assert.Equal(t, "https://cdn.example.com/mara-quinn/profile.jpg", p.ProfileImage)

	// 1000 usage at x20 plus one image
	assert.Equal(t, int64(25000), res.Cost)
	assert.Equal(t, int64(25000), f.used(t))

	stored, err := f.store.GetPersona(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "marine biologist", stored.Job)

	require.Len(t, f.text.calls, 1)
	assert.Equal(t, "profile-model", f.text.calls[0].Model)
	assert.Contains(t, f.text.calls[0].Messages[1].Content, "loves the ocean")
}

func TestCreate_InsufficientBalanceSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bag.Set("acct1", ledger.FieldQuota, "100000")
	f.bag.Set("acct1", ledger.FieldUsed, "70000")

	res, err := f.creator.Create(ctx, Request{AccountID: "acct1", Name: "Mara"})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Nil(t, res.Persona)

	assert.Empty(t, f.text.calls)
	assert.Equal(t, int64(70000), f.used(t))
	personas, err := f.store.ListPersonas(ctx, store.PersonaFilter{})
	require.NoError(t, err)
	assert.Empty(t, personas)
}

func TestCreate_ImageFailureKeepsPersona(t *testing.T) {
	f := newFixture(t)
	f.images.GenerateFunc = func(ctx context.Context, req imagegen.Request) (*imagegen.Image, error) {
		return nil, errors.New("nsfw filter")
	}

	res, err := f.creator.Create(context.Background(), Request{AccountID: "acct1", Name: "Mara"})
	require.NoError(t, err)
	assert.Empty(t, res.Persona.ProfileImage)
	assert.Equal(t, int64(20000), res.Cost)
	assert.Empty(t, f.bucket.uploads)
}

func TestCreate_IncompleteProfile(t *testing.T) {
	f := newFixture(t)
	f.text.GenerateFunc = func(ctx context.Context, req textgen.Request) (*textgen.Response, error) {
		return &textgen.Response{Content: `{"age": 30, "job": "chef"}`, Usage: 50}, nil
	}

	_, err := f.creator.Create(context.Background(), Request{AccountID: "acct1", Name: "Mara"})
	assert.ErrorIs(t, err, ErrIncompleteProfile)
	assert.Equal(t, int64(1000), f.used(t))
	assert.Zero(t, f.images.calls)
}

func TestCreate_StoreFailureStillCharges(t *testing.T) {
	f := newFixture(t)
	f.creator.deps.Store = &failingStore{
		SQLiteStore: f.store,
		CreatePersonaFunc: func(ctx context.Context, p *store.Persona) error {
			return errors.New("connection reset")
		},
	}

	res, err := f.creator.Create(context.Background(), Request{AccountID: "acct1", Name: "Mara"})
	assert.ErrorContains(t, err, "create persona")
	assert.Nil(t, res)
	assert.Equal(t, int64(25000), f.used(t))
}

func TestCreate_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.creator.deps.Limiter = ratelimit.New(1)

	_, err := f.creator.Create(context.Background(), Request{AccountID: "acct1", Name: "Mara"})
	require.NoError(t, err)
	_, err = f.creator.Create(context.Background(), Request{AccountID: "acct1", Name: "Mara"})
	assert.ErrorIs(t, err, ratelimit.ErrRateLimited)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.creator.Create(context.Background(), Request{AccountID: "acct1", Name: "  "})
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.creator.Create(ctx, Request{AccountID: "acct1", Name: "Mara"})
	require.NoError(t, err)
	require.NoError(t, f.store.CreatePost(ctx, &store.Post{AuthorID: res.Persona.ID, Content: "hi"}))

	n, err := f.creator.Delete(ctx, res.Persona.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"mara/"}, f.bucket.purged)

	_, err = f.store.GetPersona(ctx, res.Persona.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	count, err := f.store.CountPosts(ctx, store.PostFilter{AuthorID: res.Persona.ID})
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = f.creator.Delete(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete_KeepsSharedPrefix(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.creator.Create(ctx, Request{AccountID: "acct1", Name: "Mara"})
	require.NoError(t, err)
	_, err = f.creator.Create(ctx, Request{AccountID: "acct2", Name: "mara"})
	require.NoError(t, err)

	n, err := f.creator.Delete(ctx, a.Persona.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.bucket.purged)
}

func TestParseProfile(t *testing.T) {
	_, err := parseProfile("no json here")
	assert.Error(t, err)

	_, err = parseProfile(`{"age": "old"}`)
	assert.Error(t, err)

	p, err := parseProfile(`{"age": 41.0, "hobbies": []}`)
	require.NoError(t, err)
	assert.Equal(t, flexInt(41), p.Age)
	assert.Empty(t, string(p.Hobbies))
}
