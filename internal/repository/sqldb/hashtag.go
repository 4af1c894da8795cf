package sqldb

import (
	"context"
	"fmt"

	"github.com/sakif/chirp/internal/model"
	"github.com/sakif/chirp/internal/repository"
)

var _ repository.Hashtags = (*Repository)(nil)

func (r *Repository) Trending(ctx context.Context, limit int) ([]model.Hashtag, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.st.Query(ctx,
		`SELECT id, tag, usage_count, first_seen, last_seen FROM hashtags
		 ORDER BY usage_count DESC, last_seen DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing hashtags: %w", err)
	}
	defer rows.Close()

	var tags []model.Hashtag
	for rows.Next() {
		var h model.Hashtag
		if err := rows.Scan(&h.ID, &h.Tag, &h.UsageCount, &h.FirstSeen, &h.LastSeen); err != nil {
			return nil, fmt.Errorf("sqldb: scanning hashtag: %w", err)
		}
		tags = append(tags, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: listing hashtags: %w", err)
	}
	return tags, nil
}

// CleanupOrphans drops tags whose every linked post has been soft-deleted (or
// that were never linked at all). Runs periodically from the server loop.
func (r *Repository) CleanupOrphans(ctx context.Context) (int64, error) {
	n, err := r.st.Exec(ctx,
		`DELETE FROM hashtags WHERE id NOT IN (
			SELECT ph.hashtag_id FROM post_hashtags ph
			JOIN posts p ON p.id = ph.post_id
			WHERE p.is_deleted = FALSE
		 )`,
	)
	if err != nil {
		return 0, fmt.Errorf("sqldb: cleaning orphan hashtags: %w", err)
	}
	return n, nil
}
