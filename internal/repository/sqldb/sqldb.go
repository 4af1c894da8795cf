// Package sqldb implements the repository interfaces on top of the store
// primitives. The same SQL runs against both backends: statements use `?`
// placeholders (rebound by the Postgres store) and stick to the SQL subset
// both engines share — ON CONFLICT upserts, boolean literals, plain
// subqueries.
package sqldb

import (
	"context"
	"fmt"

	"github.com/sakif/chirp/internal/mention"
	"github.com/sakif/chirp/internal/store"
)

// Repository implements repository.{Users,Posts,Engagements,Hashtags,
// Mentions} against a store.Store.
type Repository struct {
	st      store.Store
	aliases []string
}

// New wraps st. The alias dictionary is fixed per deployment; pass
// mention.DefaultAliases unless a test needs its own.
func New(st store.Store) *Repository {
	return &Repository{st: st, aliases: mention.DefaultAliases}
}

// Migrate creates the schema. Every statement is idempotent, so running it
// on an existing database is safe.
func (r *Repository) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id          TEXT PRIMARY KEY,
			device_id   TEXT NOT NULL UNIQUE,
			nickname    TEXT NOT NULL,
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL,
			last_active TIMESTAMP NOT NULL,
			is_active   BOOLEAN NOT NULL DEFAULT TRUE
		)`,

		// parent_id is '' for top-level posts. An empty-string sentinel
		// instead of NULL keeps scans backend-neutral and makes the
		// "top-level only" predicate an ordinary equality.
		`CREATE TABLE IF NOT EXISTS posts (
			id              TEXT PRIMARY KEY,
			author_id       TEXT NOT NULL,
			author_nickname TEXT NOT NULL,
			content         TEXT NOT NULL CHECK (length(content) <= 280),
			parent_id       TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMP NOT NULL,
			updated_at      TIMESTAMP NOT NULL,
			is_deleted      BOOLEAN NOT NULL DEFAULT FALSE
		)`,

		`CREATE TABLE IF NOT EXISTS engagements (
			id         TEXT PRIMARY KEY,
			post_id    TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (post_id, user_id, kind)
		)`,

		`CREATE TABLE IF NOT EXISTS hashtags (
			id          TEXT PRIMARY KEY,
			tag         TEXT NOT NULL UNIQUE,
			usage_count INTEGER NOT NULL DEFAULT 0,
			first_seen  TIMESTAMP NOT NULL,
			last_seen   TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS post_hashtags (
			post_id    TEXT NOT NULL,
			hashtag_id TEXT NOT NULL,
			PRIMARY KEY (post_id, hashtag_id)
		)`,

		`CREATE TABLE IF NOT EXISTS mentions (
			id             TEXT PRIMARY KEY,
			post_id        TEXT NOT NULL,
			mentioned_user TEXT NOT NULL,
			mention_offset INTEGER NOT NULL,
			created_at     TIMESTAMP NOT NULL,
			UNIQUE (post_id, mentioned_user)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_author_id ON posts (author_id)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_parent_id ON posts (parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_engagements_post_id ON engagements (post_id)`,
		`CREATE INDEX IF NOT EXISTS idx_mentions_post_id ON mentions (post_id)`,
		`CREATE INDEX IF NOT EXISTS idx_mentions_user ON mentions (mentioned_user)`,
	}

	for _, stmt := range stmts {
		if _, err := r.st.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("sqldb: migrating schema: %w", err)
		}
	}
	return nil
}
