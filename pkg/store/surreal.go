package store

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"personafeed/pkg/surreal"
)

// SurrealStore keeps personas and posts in SurrealDB. Records carry their own
// uid field so rows decode without the driver's record-id type.
type SurrealStore struct {
	client *surreal.Client
}

type personaRow struct {
	UID                 string `json:"uid"`
	OwnerID             string `json:"owner_id"`
	Name                string `json:"name"`
	Handle              string `json:"handle"`
	Age                 int    `json:"age"`
	Job                 string `json:"job"`
	Education           string `json:"education"`
	Location            string `json:"location"`
	Bio                 string `json:"bio"`
	Goals               string `json:"goals"`
	Dreams              string `json:"dreams"`
	Fears               string `json:"fears"`
	Likes               string `json:"likes"`
	Dislikes            string `json:"dislikes"`
	Hobbies             string `json:"hobbies"`
	PhysicalDescription string `json:"physical_description"`
	SummarizedBio       string `json:"summarized_bio"`
	ProfileImage        string `json:"profile_image"`
	Tokens              int64  `json:"tokens"`
	LastPostAt          int64  `json:"last_post_at"`
	CreatedAt           int64  `json:"created_at"`
}

type postRow struct {
	UID            string `json:"uid"`
	AuthorID       string `json:"author_id"`
	Content        string `json:"content"`
	Image          string `json:"image"`
	Hashtags       string `json:"hashtags"`
	OriginalPostID string `json:"original_post_id"`
	Cost           int64  `json:"cost"`
	CreatedAt      int64  `json:"created_at"`
}

var (
	personaFields = []string{"uid", "owner_id", "name", "handle", "age", "job", "education", "location", "bio",
		"goals", "dreams", "fears", "likes", "dislikes", "hobbies", "physical_description", "summarized_bio",
		"profile_image", "tokens", "last_post_at", "created_at"}
	postFields = []string{"uid", "author_id", "content", "image", "hashtags", "original_post_id", "cost", "created_at"}
)

func NewSurrealStore(ctx context.Context, client *surreal.Client) *SurrealStore {
	store := &SurrealStore{client: client}
	if err := store.Init(ctx); err != nil {
		// Schema may already exist or the DB may come up later.
		log.Printf("[Store] Warning: Failed to initialize SurrealDB schema: %v", err)
	}
	return store
}

func (s *SurrealStore) Init(ctx context.Context) error {
	query := `
		DEFINE TABLE IF NOT EXISTS personas SCHEMALESS;
		DEFINE INDEX IF NOT EXISTS personas_uid ON personas FIELDS uid UNIQUE;
		DEFINE INDEX IF NOT EXISTS personas_owner ON personas FIELDS owner_id;
		DEFINE INDEX IF NOT EXISTS personas_last_post ON personas FIELDS last_post_at;

		DEFINE TABLE IF NOT EXISTS posts SCHEMALESS;
		DEFINE INDEX IF NOT EXISTS posts_uid ON posts FIELDS uid UNIQUE;
		DEFINE INDEX IF NOT EXISTS posts_author ON posts FIELDS author_id;
		DEFINE INDEX IF NOT EXISTS posts_original ON posts FIELDS original_post_id;
		DEFINE INDEX IF NOT EXISTS posts_created ON posts FIELDS created_at;
	`
	return s.client.Exec(ctx, query, nil)
}

func (s *SurrealStore) Close() error {
	s.client.Close()
	return nil
}

func (s *SurrealStore) CreatePersona(ctx context.Context, p *Persona) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	err := s.client.Exec(ctx, `CREATE type::thing("personas", $uid) CONTENT $data;`, map[string]interface{}{
		"uid":  p.ID,
		"data": toPersonaRow(p),
	})
	if err != nil {
		return fmt.Errorf("create persona: %w", err)
	}
	return nil
}

func (s *SurrealStore) GetPersona(ctx context.Context, id string) (*Persona, error) {
	query, err := surreal.Select("personas", personaFields, map[string]interface{}{"uid": id}, "", 1)
	if err != nil {
		return nil, err
	}
	var rows []personaRow
	if err := s.client.Rows(ctx, query, map[string]interface{}{"uid": id}, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0].toPersona(), nil
}

func (s *SurrealStore) ListPersonas(ctx context.Context, f PersonaFilter) ([]Persona, error) {
	var where []string
	vars := map[string]interface{}{}
	if f.OwnerID != "" {
		where = append(where, "owner_id = $owner_id")
		vars["owner_id"] = f.OwnerID
	}
	if !f.LastPostBefore.IsZero() {
		where = append(where, "last_post_at < $before")
		vars["before"] = toMillis(f.LastPostBefore)
	}

	query := "SELECT " + strings.Join(personaFields, ", ") + " FROM personas"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC;"

	var rows []personaRow
	if err := s.client.Rows(ctx, query, vars, &rows); err != nil {
		return nil, err
	}
	out := make([]Persona, len(rows))
	for i := range rows {
		out[i] = *rows[i].toPersona()
	}
	return out, nil
}

func (s *SurrealStore) RecordPersonaPost(ctx context.Context, id string, cost int64, at time.Time) error {
	var rows []personaRow
	err := s.client.Rows(ctx, `
		UPDATE personas
		SET tokens += $cost, last_post_at = math::max([last_post_at, $at])
		WHERE uid = $uid
		RETURN AFTER;
	`, map[string]interface{}{"uid": id, "cost": cost, "at": toMillis(at)}, &rows)
	if err != nil {
		return fmt.Errorf("update persona: %w", err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SurrealStore) DeletePersona(ctx context.Context, id string) error {
	if _, err := s.GetPersona(ctx, id); err != nil {
		return err
	}
	err := s.client.Exec(ctx, `
		DELETE posts WHERE author_id = $uid;
		DELETE personas WHERE uid = $uid;
	`, map[string]interface{}{"uid": id})
	if err != nil {
		return fmt.Errorf("delete persona: %w", err)
	}
	return nil
}

func (s *SurrealStore) CreatePost(ctx context.Context, p *Post) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	err := s.client.Exec(ctx, `CREATE type::thing("posts", $uid) CONTENT $data;`, map[string]interface{}{
		"uid":  p.ID,
		"data": toPostRow(p),
	})
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

func (s *SurrealStore) GetPost(ctx context.Context, id string) (*Post, error) {
	query, err := surreal.Select("posts", postFields, map[string]interface{}{"uid": id}, "", 1)
	if err != nil {
		return nil, err
	}
	var rows []postRow
	if err := s.client.Rows(ctx, query, map[string]interface{}{"uid": id}, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0].toPost(), nil
}

func (s *SurrealStore) ListPosts(ctx context.Context, f PostFilter) ([]Post, error) {
	where, vars := surrealPostWhere(f)
	query := "SELECT " + strings.Join(postFields, ", ") + " FROM posts WHERE " + where + " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var rows []postRow
	if err := s.client.Rows(ctx, query+";", vars, &rows); err != nil {
		return nil, err
	}
	out := make([]Post, len(rows))
	for i := range rows {
		out[i] = *rows[i].toPost()
	}
	return out, nil
}

func (s *SurrealStore) CountPosts(ctx context.Context, f PostFilter) (int, error) {
	where, vars := surrealPostWhere(f)
	var rows []struct {
		N int `json:"n"`
	}
	if err := s.client.Rows(ctx, "SELECT count() AS n FROM posts WHERE "+where+" GROUP ALL;", vars, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].N, nil
}

func surrealPostWhere(f PostFilter) (string, map[string]interface{}) {
	where := []string{"true"}
	vars := map[string]interface{}{}
	if f.AuthorID != "" {
		where = append(where, "author_id = $author_id")
		vars["author_id"] = f.AuthorID
	}
	if f.OriginalPostID != "" {
		where = append(where, "original_post_id = $original_post_id")
		vars["original_post_id"] = f.OriginalPostID
	}
	if f.Hashtag != "" {
		where = append(where, "string::contains(string::lowercase(hashtags), $hashtag)")
		vars["hashtag"] = strings.ToLower(f.Hashtag)
	}
	return strings.Join(where, " AND "), vars
}

func toPersonaRow(p *Persona) personaRow {
	return personaRow{
		UID: p.ID, OwnerID: p.OwnerID, Name: p.Name, Handle: p.Handle, Age: p.Age, Job: p.Job,
		Education: p.Education, Location: p.Location, Bio: p.Bio, Goals: p.Goals, Dreams: p.Dreams,
		Fears: p.Fears, Likes: p.Likes, Dislikes: p.Dislikes, Hobbies: p.Hobbies,
		PhysicalDescription: p.PhysicalDescription, SummarizedBio: p.SummarizedBio,
		ProfileImage: p.ProfileImage, Tokens: p.Tokens,
		LastPostAt: toMillis(p.LastPostAt), CreatedAt: toMillis(p.CreatedAt),
	}
}

func (r personaRow) toPersona() *Persona {
	return &Persona{
		ID: r.UID, OwnerID: r.OwnerID, Name: r.Name, Handle: r.Handle, Age: r.Age, Job: r.Job,
		Education: r.Education, Location: r.Location, Bio: r.Bio, Goals: r.Goals, Dreams: r.Dreams,
		Fears: r.Fears, Likes: r.Likes, Dislikes: r.Dislikes, Hobbies: r.Hobbies,
		PhysicalDescription: r.PhysicalDescription, SummarizedBio: r.SummarizedBio,
		ProfileImage: r.ProfileImage, Tokens: r.Tokens,
		LastPostAt: fromMillis(r.LastPostAt), CreatedAt: fromMillis(r.CreatedAt),
	}
}

func toPostRow(p *Post) postRow {
	return postRow{
		UID: p.ID, AuthorID: p.AuthorID, Content: p.Content, Image: p.Image, Hashtags: p.Hashtags,
		OriginalPostID: p.OriginalPostID, Cost: p.Cost, CreatedAt: toMillis(p.CreatedAt),
	}
}

func (r postRow) toPost() *Post {
	return &Post{
		ID: r.UID, AuthorID: r.AuthorID, Content: r.Content, Image: r.Image, Hashtags: r.Hashtags,
		OriginalPostID: r.OriginalPostID, Cost: r.Cost, CreatedAt: fromMillis(r.CreatedAt),
	}
}
