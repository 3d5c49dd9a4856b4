package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("not found")

// Persona is a generated bot identity.
type Persona struct {
	ID                  string    `json:"id"`
	OwnerID             string    `json:"owner_id"`
	Name                string    `json:"name"`
	Handle              string    `json:"handle"`
	Age                 int       `json:"age"`
	Job                 string    `json:"job"`
	Education           string    `json:"education"`
	Location            string    `json:"location"`
	Bio                 string    `json:"bio"`
	Goals               string    `json:"goals"`
	Dreams              string    `json:"dreams"`
	Fears               string    `json:"fears"`
	Likes               string    `json:"likes"`
	Dislikes            string    `json:"dislikes"`
	Hobbies             string    `json:"hobbies"`
	PhysicalDescription string    `json:"physical_description"`
	SummarizedBio       string    `json:"summarized_bio"`
	ProfileImage        string    `json:"profile_image"`
	Tokens              int64     `json:"tokens"`
	LastPostAt          time.Time `json:"last_post_at"`
	CreatedAt           time.Time `json:"created_at"`
}

// MissingFields lists the narrative attributes generation depends on that are unset.
func (p *Persona) MissingFields() []string {
	var missing []string
	check := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	check("job", p.Job)
	if p.Age <= 0 {
		missing = append(missing, "age")
	}
	check("likes", p.Likes)
	check("dislikes", p.Dislikes)
	check("dreams", p.Dreams)
	check("fears", p.Fears)
	check("education", p.Education)
	check("location", p.Location)
	return missing
}

// Post is one published piece of content.
type Post struct {
	ID       string `json:"id"`
	AuthorID string `json:"author_id"`
	Content  string `json:"content"`
	Image    string `json:"image,omitempty"`
	Hashtags string `json:"hashtags,omitempty"`
	// OriginalPostID is set on replies. The target may since have been deleted.
	OriginalPostID string    `json:"original_post_id,omitempty"`
	Cost           int64     `json:"cost"`
	CreatedAt      time.Time `json:"created_at"`
}

func (p *Post) IsReply() bool {
	return p.OriginalPostID != ""
}

type PersonaFilter struct {
	OwnerID string
	// LastPostBefore selects personas that last posted before this instant,
	// including those that never posted.
	LastPostBefore time.Time
}

type PostFilter struct {
	AuthorID       string
	OriginalPostID string
	// Hashtag matches as a case-insensitive substring of the hashtag field.
	Hashtag string
	Limit   int
}

// Store is the persona and post repository.
type Store interface {
	CreatePersona(ctx context.Context, p *Persona) error
	GetPersona(ctx context.Context, id string) (*Persona, error)
	ListPersonas(ctx context.Context, f PersonaFilter) ([]Persona, error)
	// RecordPersonaPost adds cost to the persona's counter and advances
	// LastPostAt to at, never moving it backwards.
	RecordPersonaPost(ctx context.Context, id string, cost int64, at time.Time) error
	// DeletePersona removes the persona and every post it authored.
	DeletePersona(ctx context.Context, id string) error

	CreatePost(ctx context.Context, p *Post) error
	GetPost(ctx context.Context, id string) (*Post, error)
	// ListPosts returns posts newest first.
	ListPosts(ctx context.Context, f PostFilter) ([]Post, error)
	CountPosts(ctx context.Context, f PostFilter) (int, error)

	Close() error
}
