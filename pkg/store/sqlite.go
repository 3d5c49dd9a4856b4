package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the single-node Store backed by modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS personas (
	  id TEXT PRIMARY KEY,
	  owner_id TEXT NOT NULL,
	  name TEXT NOT NULL,
	  handle TEXT NOT NULL DEFAULT '',
	  age INTEGER NOT NULL DEFAULT 0,
	  job TEXT NOT NULL DEFAULT '',
	  education TEXT NOT NULL DEFAULT '',
	  location TEXT NOT NULL DEFAULT '',
	  bio TEXT NOT NULL DEFAULT '',
	  goals TEXT NOT NULL DEFAULT '',
	  dreams TEXT NOT NULL DEFAULT '',
	  fears TEXT NOT NULL DEFAULT '',
	  likes TEXT NOT NULL DEFAULT '',
	  dislikes TEXT NOT NULL DEFAULT '',
	  hobbies TEXT NOT NULL DEFAULT '',
	  physical_description TEXT NOT NULL DEFAULT '',
	  summarized_bio TEXT NOT NULL DEFAULT '',
	  profile_image TEXT NOT NULL DEFAULT '',
	  tokens INTEGER NOT NULL DEFAULT 0,
	  last_post_at INTEGER NOT NULL DEFAULT 0,
	  created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_personas_owner ON personas(owner_id);
	CREATE INDEX IF NOT EXISTS idx_personas_last_post ON personas(last_post_at);
	CREATE TABLE IF NOT EXISTS posts (
	  id TEXT PRIMARY KEY,
	  author_id TEXT NOT NULL REFERENCES personas(id) ON DELETE CASCADE,
	  content TEXT NOT NULL,
	  image TEXT NOT NULL DEFAULT '',
	  hashtags TEXT NOT NULL DEFAULT '',
	  original_post_id TEXT NOT NULL DEFAULT '',
	  cost INTEGER NOT NULL DEFAULT 0,
	  created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_id);
	CREATE INDEX IF NOT EXISTS idx_posts_original ON posts(original_post_id);
	CREATE INDEX IF NOT EXISTS idx_posts_created ON posts(created_at);
	`)
	return err
}

const personaColumns = `id, owner_id, name, handle, age, job, education, location, bio, goals, dreams, fears,
	likes, dislikes, hobbies, physical_description, summarized_bio, profile_image, tokens, last_post_at, created_at`

func (s *SQLiteStore) CreatePersona(ctx context.Context, p *Persona) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO personas(`+personaColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.OwnerID, p.Name, p.Handle, p.Age, p.Job, p.Education, p.Location, p.Bio, p.Goals, p.Dreams, p.Fears,
		p.Likes, p.Dislikes, p.Hobbies, p.PhysicalDescription, p.SummarizedBio, p.ProfileImage, p.Tokens,
		toMillis(p.LastPostAt), toMillis(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert persona: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPersona(ctx context.Context, id string) (*Persona, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+personaColumns+` FROM personas WHERE id = ?`, id)
	p, err := scanPersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) ListPersonas(ctx context.Context, f PersonaFilter) ([]Persona, error) {
	var where []string
	var args []any
	if f.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if !f.LastPostBefore.IsZero() {
		where = append(where, "last_post_at < ?")
		args = append(args, toMillis(f.LastPostBefore))
	}

	q := `SELECT ` + personaColumns + ` FROM personas`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordPersonaPost(ctx context.Context, id string, cost int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE personas SET tokens = tokens + ?, last_post_at = MAX(last_post_at, ?) WHERE id = ?`,
		cost, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("update persona: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeletePersona(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE author_id = ?`, id); err != nil {
		return fmt.Errorf("delete posts: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM personas WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete persona: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) CreatePost(ctx context.Context, p *Post) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts(id, author_id, content, image, hashtags, original_post_id, cost, created_at) VALUES(?,?,?,?,?,?,?,?)`,
		p.ID, p.AuthorID, p.Content, p.Image, p.Hashtags, p.OriginalPostID, p.Cost, toMillis(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPost(ctx context.Context, id string) (*Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, author_id, content, image, hashtags, original_post_id, cost, created_at FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) ListPosts(ctx context.Context, f PostFilter) ([]Post, error) {
	where, args := postWhere(f)
	q := `SELECT id, author_id, content, image, hashtags, original_post_id, cost, created_at FROM posts` + where +
		` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountPosts(ctx context.Context, f PostFilter) (int, error) {
	where, args := postWhere(f)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`+where, args...).Scan(&n)
	return n, err
}

func postWhere(f PostFilter) (string, []any) {
	var where []string
	var args []any
	if f.AuthorID != "" {
		where = append(where, "author_id = ?")
		args = append(args, f.AuthorID)
	}
	if f.OriginalPostID != "" {
		where = append(where, "original_post_id = ?")
		args = append(args, f.OriginalPostID)
	}
	if f.Hashtag != "" {
		where = append(where, "LOWER(hashtags) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.Hashtag)+"%")
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPersona(r scanner) (*Persona, error) {
	var p Persona
	var lastPost, created int64
	err := r.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Handle, &p.Age, &p.Job, &p.Education, &p.Location, &p.Bio,
		&p.Goals, &p.Dreams, &p.Fears, &p.Likes, &p.Dislikes, &p.Hobbies, &p.PhysicalDescription,
		&p.SummarizedBio, &p.ProfileImage, &p.Tokens, &lastPost, &created)
	if err != nil {
		return nil, err
	}
	p.LastPostAt = fromMillis(lastPost)
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

func scanPost(r scanner) (*Post, error) {
	var p Post
	var created int64
	if err := r.Scan(&p.ID, &p.AuthorID, &p.Content, &p.Image, &p.Hashtags, &p.OriginalPostID, &p.Cost, &created); err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
