package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/chirp/internal/mention"
	"github.com/sakif/chirp/internal/model"
	"github.com/sakif/chirp/internal/repository"
	"github.com/sakif/chirp/internal/store"
)

var _ repository.Mentions = (*Repository)(nil)

func insertMention(ctx context.Context, q store.Querier, postID string, m mention.Match, at time.Time) error {
	_, err := q.Exec(ctx,
		`INSERT INTO mentions (id, post_id, mentioned_user, mention_offset, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (post_id, mentioned_user) DO NOTHING`,
		xid.New().String(), postID, m.User, m.Offset, at,
	)
	if err != nil {
		return fmt.Errorf("recording mention of %s: %w", m.User, err)
	}
	return nil
}

func (r *Repository) Record(ctx context.Context, postID, text string) error {
	now := time.Now().UTC()
	for _, m := range mention.Extract(text, r.aliases) {
		if err := insertMention(ctx, r.st, postID, m, now); err != nil {
			return fmt.Errorf("sqldb: %w", err)
		}
	}
	return nil
}

// RewriteReferences renames index rows in two steps inside one transaction.
// A straight UPDATE would collide with the unique (post, name) constraint
// whenever a post already mentions both names; so rows whose post already
// references newName are left for the DELETE instead.
func (r *Repository) RewriteReferences(ctx context.Context, oldName, newName string) (int64, error) {
	var renamed int64
	err := r.st.InTx(ctx, func(q store.Querier) error {
		n, err := q.Exec(ctx,
			`UPDATE mentions SET mentioned_user = ?
			 WHERE mentioned_user = ? AND post_id NOT IN (
				SELECT post_id FROM mentions WHERE mentioned_user = ?
			 )`,
			newName, oldName, newName,
		)
		if err != nil {
			return fmt.Errorf("renaming mentions: %w", err)
		}
		renamed = n

		_, err = q.Exec(ctx, `DELETE FROM mentions WHERE mentioned_user = ?`, oldName)
		if err != nil {
			return fmt.Errorf("dropping stale mentions: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sqldb: rewriting mention references: %w", err)
	}
	return renamed, nil
}

// Backfill indexes mentions for posts created before the index existed. Once
// any row is present the whole pass is skipped, so calling it on every
// startup is cheap.
func (r *Repository) Backfill(ctx context.Context) (int, error) {
	var existing int
	if err := r.st.QueryRow(ctx, `SELECT COUNT(*) FROM mentions`).Scan(&existing); err != nil {
		return 0, fmt.Errorf("sqldb: checking mention index: %w", err)
	}
	if existing > 0 {
		return 0, nil
	}

	rows, err := r.st.Query(ctx, `SELECT id, content, created_at FROM posts WHERE is_deleted = FALSE`)
	if err != nil {
		return 0, fmt.Errorf("sqldb: reading posts for backfill: %w", err)
	}
	defer rows.Close()

	type pending struct {
		postID string
		m      mention.Match
		at     time.Time
	}
	var todo []pending
	for rows.Next() {
		var (
			id, content string
			createdAt   time.Time
		)
		if err := rows.Scan(&id, &content, &createdAt); err != nil {
			return 0, fmt.Errorf("sqldb: scanning post for backfill: %w", err)
		}
		for _, m := range mention.Extract(content, r.aliases) {
			todo = append(todo, pending{postID: id, m: m, at: createdAt})
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("sqldb: reading posts for backfill: %w", err)
	}
	rows.Close()

	for _, p := range todo {
		if err := insertMention(ctx, r.st, p.postID, p.m, p.at); err != nil {
			return 0, fmt.Errorf("sqldb: backfilling: %w", err)
		}
	}
	return len(todo), nil
}

func (r *Repository) ListForPost(ctx context.Context, postID string) ([]model.Mention, error) {
	rows, err := r.st.Query(ctx,
		`SELECT id, post_id, mentioned_user, mention_offset, created_at
		 FROM mentions WHERE post_id = ? ORDER BY mention_offset ASC`,
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing mentions for post %s: %w", postID, err)
	}
	defer rows.Close()

	var out []model.Mention
	for rows.Next() {
		var m model.Mention
		if err := rows.Scan(&m.ID, &m.PostID, &m.User, &m.Offset, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqldb: scanning mention: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: listing mentions for post %s: %w", postID, err)
	}
	return out, nil
}
