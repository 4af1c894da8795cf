package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/chirp/internal/model"
	"github.com/sakif/chirp/internal/repository"
)

var _ repository.Engagements = (*Repository)(nil)

// Toggle flips the engagement. The insert carries ON CONFLICT DO NOTHING, so
// exactly one of two things happens atomically: the row did not exist and now
// does (added), or it already existed and the follow-up DELETE removes it.
func (r *Repository) Toggle(ctx context.Context, postID, userID string, kind model.EngagementKind) (bool, error) {
	n, err := r.st.Exec(ctx,
		`INSERT INTO engagements (id, post_id, user_id, kind, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (post_id, user_id, kind) DO NOTHING`,
		xid.New().String(), postID, userID, string(kind), time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("sqldb: toggling %s on post %s: %w", kind, postID, err)
	}
	if n == 1 {
		return true, nil
	}

	_, err = r.st.Exec(ctx,
		`DELETE FROM engagements WHERE post_id = ? AND user_id = ? AND kind = ?`,
		postID, userID, string(kind),
	)
	if err != nil {
		return false, fmt.Errorf("sqldb: untoggling %s on post %s: %w", kind, postID, err)
	}
	return false, nil
}
