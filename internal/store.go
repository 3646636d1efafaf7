package internal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store owns the two persisted tables: sources and their reviews. A source
// exclusively owns its reviews; deleting one cascades.
type Store struct {
	db *pgxpool.Pool
}

// NewStore connects to postgres.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

var _schema = []string{
	`CREATE TABLE IF NOT EXISTS yandex_sources (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		user_id BIGINT NOT NULL,
		url TEXT NOT NULL,
		host TEXT NOT NULL DEFAULT 'ru',
		organization_name TEXT,
		rating NUMERIC(3,2),
		total_reviews INTEGER NOT NULL DEFAULT 0 CHECK (total_reviews >= 0),
		last_synced_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS reviews (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		yandex_source_id BIGINT NOT NULL REFERENCES yandex_sources(id) ON DELETE CASCADE,
		author_name TEXT NOT NULL,
		author_phone TEXT,
		rating SMALLINT CHECK (rating BETWEEN 1 AND 5),
		text TEXT,
		branch_name TEXT,
		published_at TIMESTAMPTZ,
		yandex_id TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS reviews_source_published_idx
		ON reviews (yandex_source_id, published_at)`,
}

// Init creates the schema. Idempotent; full migration plumbing is the
// caller's problem.
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range _schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// Source is one user-organization registration.
type Source struct {
	ID               int64
	UserID           int64
	URL              string
	Host             string
	OrganizationName *string
	Rating           *float64
	TotalReviews     int
	LastSyncedAt     *time.Time
}

// Review is one stored review row.
type Review struct {
	ID          int64
	SourceID    int64
	AuthorName  string
	AuthorPhone *string // Reserved; never populated.
	Rating      *int
	Text        *string
	BranchName  *string
	PublishedAt *time.Time
	YandexID    *string
}

// CreateSource registers a URL for a user.
func (s *Store) CreateSource(ctx context.Context, userID int64, rawURL string) (*Source, error) {
	ref, err := ParseOrganizationURL(rawURL)
	if err != nil {
		return nil, err
	}
	src := &Source{UserID: userID, URL: rawURL, Host: ref.Host}
	err = s.db.QueryRow(ctx,
		`INSERT INTO yandex_sources (user_id, url, host) VALUES ($1, $2, $3) RETURNING id`,
		userID, rawURL, ref.Host,
	).Scan(&src.ID)
	if err != nil {
		return nil, fmt.Errorf("creating source: %w", err)
	}
	return src, nil
}

// GetSource loads one source by ID.
func (s *Store) GetSource(ctx context.Context, id int64) (*Source, error) {
	src := &Source{}
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, url, host, organization_name, rating, total_reviews, last_synced_at
		 FROM yandex_sources WHERE id = $1`, id,
	).Scan(&src.ID, &src.UserID, &src.URL, &src.Host, &src.OrganizationName,
		&src.Rating, &src.TotalReviews, &src.LastSyncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("source %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading source: %w", err)
	}
	return src, nil
}

// ListSources returns every registered source.
func (s *Store) ListSources(ctx context.Context) ([]*Source, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, url, host, organization_name, rating, total_reviews, last_synced_at
		 FROM yandex_sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var sources []*Source
	for rows.Next() {
		src := &Source{}
		if err := rows.Scan(&src.ID, &src.UserID, &src.URL, &src.Host, &src.OrganizationName,
			&src.Rating, &src.TotalReviews, &src.LastSyncedAt); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// ReviewsBySource pages through a source's stored reviews so downstream
// consumers never need the upstream. sort is one of "newest", "oldest",
// "highest", "lowest".
func (s *Store) ReviewsBySource(ctx context.Context, sourceID int64, sort string, limit, offset int) ([]*Review, error) {
	order := "published_at DESC NULLS LAST"
	switch sort {
	case "oldest":
		order = "published_at ASC NULLS LAST"
	case "highest":
		order = "rating DESC NULLS LAST, published_at DESC NULLS LAST"
	case "lowest":
		order = "rating ASC NULLS LAST, published_at DESC NULLS LAST"
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, yandex_source_id, author_name, author_phone, rating, text, branch_name, published_at, yandex_id
		 FROM reviews WHERE yandex_source_id = $1 ORDER BY `+order+` LIMIT $2 OFFSET $3`,
		sourceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*Review
	for rows.Next() {
		r := &Review{}
		if err := rows.Scan(&r.ID, &r.SourceID, &r.AuthorName, &r.AuthorPhone, &r.Rating,
			&r.Text, &r.BranchName, &r.PublishedAt, &r.YandexID); err != nil {
			return nil, err
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

var (
	_manyNewlinesRE = regexp.MustCompile(`\n{3,}`)
	_manyBlanksRE   = regexp.MustCompile(`[^\S\n]{2,}`)
)

// sanitizeReview normalizes a raw review into storable column values.
func sanitizeReview(r RawReview) Review {
	out := Review{AuthorName: cleanAuthorName(r.Author)}

	text := strings.TrimSpace(r.Text)
	text = _manyNewlinesRE.ReplaceAllString(text, "\n\n")
	text = _manyBlanksRE.ReplaceAllString(text, " ")
	if text != "" {
		out.Text = &text
	}

	if r.Rating >= 1 && r.Rating <= 5 {
		rating := r.Rating
		out.Rating = &rating
	}

	if branch := strings.TrimSpace(r.Branch); branch != "" {
		out.BranchName = &branch
	}
	if !r.PublishedAt.IsZero() {
		published := r.PublishedAt
		out.PublishedAt = &published
	}
	if id := strings.TrimSpace(r.YandexID); id != "" {
		out.YandexID = &id
	}
	return out
}

// ApplyFullSync replaces a source's review set inside one transaction. An
// outside observer sees either the old set or the new one, never neither.
// Callers must not invoke this with zero reviews; that path preserves data
// by never deleting.
func (s *Store) ApplyFullSync(ctx context.Context, src *Source, fr *FetchResult) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning sync tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM reviews WHERE yandex_source_id = $1`, src.ID); err != nil {
		return fmt.Errorf("clearing reviews: %w", err)
	}

	batchIDs := newSet[string]()
	for _, raw := range fr.Reviews {
		row := sanitizeReview(raw)
		if row.YandexID != nil {
			if batchIDs.has(*row.YandexID) {
				continue
			}
			batchIDs[*row.YandexID] = struct{}{}
		}
		if err := insertReview(ctx, tx, src.ID, row); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing sync: %w", err)
	}

	return s.updateSourceMeta(ctx, src, fr)
}

// ApplyIncrementalSync inserts only reviews not already stored. Nothing is
// ever deleted here.
func (s *Store) ApplyIncrementalSync(ctx context.Context, src *Source, fr *FetchResult) error {
	existing, err := s.existingYandexIDs(ctx, src.ID)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning sync tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, raw := range fr.Reviews {
		row := sanitizeReview(raw)
		if row.YandexID != nil {
			if existing.has(*row.YandexID) {
				continue
			}
			existing[*row.YandexID] = struct{}{}
		} else {
			// No upstream ID: fall back to a content match.
			var exists bool
			err := tx.QueryRow(ctx,
				`SELECT EXISTS (
					SELECT 1 FROM reviews
					WHERE yandex_source_id = $1 AND author_name = $2 AND text IS NOT DISTINCT FROM $3
				)`, src.ID, row.AuthorName, row.Text,
			).Scan(&exists)
			if err != nil {
				return fmt.Errorf("matching review content: %w", err)
			}
			if exists {
				continue
			}
		}
		if err := insertReview(ctx, tx, src.ID, row); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing sync: %w", err)
	}

	return s.updateSourceMeta(ctx, src, fr)
}

func insertReview(ctx context.Context, tx pgx.Tx, sourceID int64, r Review) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO reviews (yandex_source_id, author_name, author_phone, rating, text, branch_name, published_at, yandex_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sourceID, r.AuthorName, r.AuthorPhone, r.Rating, r.Text, r.BranchName, r.PublishedAt, r.YandexID)
	if err != nil {
		return fmt.Errorf("inserting review: %w", err)
	}
	return nil
}

// existingYandexIDs loads a source's known upstream IDs into a set for O(1)
// lookups during incremental sync.
func (s *Store) existingYandexIDs(ctx context.Context, sourceID int64) (set[string], error) {
	rows, err := s.db.Query(ctx,
		`SELECT yandex_id FROM reviews WHERE yandex_source_id = $1 AND yandex_id IS NOT NULL`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("loading review IDs: %w", err)
	}
	defer rows.Close()

	ids := newSet[string]()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// updateSourceMeta brings the source row in line with what's actually
// stored: total_reviews always equals the row count, the rating prefers the
// upstream-reported value and falls back to the stored average.
func (s *Store) updateSourceMeta(ctx context.Context, src *Source, fr *FetchResult) error {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM reviews WHERE yandex_source_id = $1`, src.ID,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("counting reviews: %w", err)
	}

	name := src.OrganizationName
	if strings.TrimSpace(fr.OrganizationName) != "" {
		trimmed := strings.TrimSpace(fr.OrganizationName)
		name = &trimmed
	}

	rating := src.Rating
	if fr.Rating > 0 {
		rounded := math.Round(fr.Rating*100) / 100
		rating = &rounded
	} else {
		var avg *float64
		err := s.db.QueryRow(ctx,
			`SELECT ROUND(AVG(rating)::numeric, 2) FROM reviews WHERE yandex_source_id = $1 AND rating IS NOT NULL`,
			src.ID,
		).Scan(&avg)
		if err == nil && avg != nil {
			rating = avg
		}
	}

	now := time.Now()
	_, err = s.db.Exec(ctx,
		`UPDATE yandex_sources
		 SET organization_name = $2, rating = $3, total_reviews = $4, last_synced_at = $5, updated_at = now()
		 WHERE id = $1`,
		src.ID, name, rating, count, now)
	if err != nil {
		return fmt.Errorf("updating source: %w", err)
	}

	src.OrganizationName = name
	src.Rating = rating
	src.TotalReviews = count
	src.LastSyncedAt = &now
	return nil
}

// TouchLastSynced advances only last_synced_at. Used when a fetch came back
// empty: prior reviews are worth more than an empty overwrite.
func (s *Store) TouchLastSynced(ctx context.Context, src *Source) error {
	now := time.Now()
	_, err := s.db.Exec(ctx,
		`UPDATE yandex_sources SET last_synced_at = $2, updated_at = now() WHERE id = $1`,
		src.ID, now)
	if err != nil {
		return fmt.Errorf("touching source: %w", err)
	}
	src.LastSyncedAt = &now
	return nil
}
