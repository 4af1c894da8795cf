package sqldb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/chirp/internal/apperror"
	"github.com/sakif/chirp/internal/mention"
	"github.com/sakif/chirp/internal/model"
	"github.com/sakif/chirp/internal/repository"
	"github.com/sakif/chirp/internal/store"
)

var _ repository.Posts = (*Repository)(nil)

// postSelect pulls the post row plus its three aggregates. Correlated
// subqueries keep the statement identical on both backends; the engagement
// index makes them cheap.
const postSelect = `SELECT p.id, p.author_id, p.author_nickname, p.content, p.parent_id,
	p.created_at, p.updated_at, p.is_deleted,
	(SELECT COUNT(*) FROM engagements e WHERE e.post_id = p.id AND e.kind = 'like'),
	(SELECT COUNT(*) FROM engagements e WHERE e.post_id = p.id AND e.kind = 'reshare'),
	(SELECT COUNT(*) FROM posts c WHERE c.parent_id = p.id AND c.is_deleted = FALSE)
FROM posts p`

func (r *Repository) Create(ctx context.Context, post *model.Post, tags []string, mentions []mention.Match) error {
	if post.ID == "" {
		post.ID = xid.New().String()
	}
	if post.CreatedAt.IsZero() {
		now := time.Now().UTC()
		post.CreatedAt = now
		post.UpdatedAt = now
	}
	return r.st.InTx(ctx, func(q store.Querier) error {
		_, err := q.Exec(ctx,
			`INSERT INTO posts (id, author_id, author_nickname, content, parent_id, created_at, updated_at, is_deleted)
			 VALUES (?, ?, ?, ?, ?, ?, ?, FALSE)`,
			post.ID, post.AuthorID, post.AuthorNickname, post.Content, post.ParentID,
			post.CreatedAt, post.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting post: %w", err)
		}

		for _, tag := range tags {
			_, err := q.Exec(ctx,
				`INSERT INTO hashtags (id, tag, usage_count, first_seen, last_seen)
				 VALUES (?, ?, 1, ?, ?)
				 ON CONFLICT (tag) DO UPDATE SET
					usage_count = hashtags.usage_count + 1,
					last_seen = excluded.last_seen`,
				xid.New().String(), tag, post.CreatedAt, post.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("upserting hashtag %q: %w", tag, err)
			}

			var tagID string
			if err := q.QueryRow(ctx, `SELECT id FROM hashtags WHERE tag = ?`, tag).Scan(&tagID); err != nil {
				return fmt.Errorf("resolving hashtag %q: %w", tag, err)
			}
			_, err = q.Exec(ctx,
				`INSERT INTO post_hashtags (post_id, hashtag_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
				post.ID, tagID,
			)
			if err != nil {
				return fmt.Errorf("linking hashtag %q: %w", tag, err)
			}
		}

		for _, m := range mentions {
			if err := insertMention(ctx, q, post.ID, m, post.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) GetByID(ctx context.Context, id string) (*model.Post, error) {
	var p model.Post
	err := scanPost(r.st.QueryRow(ctx, postSelect+` WHERE p.id = ?`, id), &p)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil, apperror.NotFound("post", id)
		}
		return nil, fmt.Errorf("sqldb: getting post %s: %w", id, err)
	}
	return &p, nil
}

func (r *Repository) List(ctx context.Context, opts repository.ListOptions) ([]model.Post, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	return r.queryPosts(ctx,
		postSelect+` WHERE p.is_deleted = FALSE AND p.parent_id = ''
		 ORDER BY p.created_at DESC LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
}

func (r *Repository) ListByHashtag(ctx context.Context, tag string, limit int) ([]model.Post, error) {
	return r.queryPosts(ctx,
		postSelect+` WHERE p.is_deleted = FALSE AND p.id IN (
			SELECT ph.post_id FROM post_hashtags ph
			JOIN hashtags h ON h.id = ph.hashtag_id
			WHERE h.tag = ?
		 ) ORDER BY p.created_at DESC LIMIT ?`,
		tag, limit,
	)
}

func (r *Repository) ListByAuthor(ctx context.Context, authorID string, limit int) ([]model.Post, error) {
	return r.queryPosts(ctx,
		postSelect+` WHERE p.is_deleted = FALSE AND p.parent_id = '' AND p.author_id = ?
		 ORDER BY p.created_at DESC LIMIT ?`,
		authorID, limit,
	)
}

func (r *Repository) ListRepliesByAuthor(ctx context.Context, authorID string, limit int) ([]model.Post, error) {
	return r.queryPosts(ctx,
		postSelect+` WHERE p.is_deleted = FALSE AND p.parent_id != '' AND p.author_id = ?
		 ORDER BY p.created_at DESC LIMIT ?`,
		authorID, limit,
	)
}

func (r *Repository) ListMentioning(ctx context.Context, nickname string, limit int) ([]model.Post, error) {
	return r.queryPosts(ctx,
		postSelect+` WHERE p.is_deleted = FALSE AND (
			p.id IN (SELECT m.post_id FROM mentions m WHERE m.mentioned_user = ?)
			OR p.parent_id IN (SELECT id FROM posts WHERE author_nickname = ? AND is_deleted = FALSE)
		 ) ORDER BY p.created_at DESC LIMIT ?`,
		nickname, nickname, limit,
	)
}

func (r *Repository) ListReplies(ctx context.Context, postID string, limit int) ([]model.Post, error) {
	return r.queryPosts(ctx,
		postSelect+` WHERE p.is_deleted = FALSE AND p.parent_id = ?
		 ORDER BY p.created_at ASC LIMIT ?`,
		postID, limit,
	)
}

func (r *Repository) RecentByAuthor(ctx context.Context, authorID string, limit int) ([]model.Post, error) {
	return r.queryPosts(ctx,
		postSelect+` WHERE p.is_deleted = FALSE AND p.author_id = ?
		 ORDER BY p.created_at DESC LIMIT ?`,
		authorID, limit,
	)
}

func (r *Repository) SoftDelete(ctx context.Context, id string) error {
	n, err := r.st.Exec(ctx,
		`UPDATE posts SET is_deleted = TRUE, updated_at = ? WHERE id = ? AND is_deleted = FALSE`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqldb: deleting post %s: %w", id, err)
	}
	if n == 0 {
		return apperror.NotFound("post", id)
	}
	return nil
}

func (r *Repository) UpdateAuthorNickname(ctx context.Context, authorID, nickname string) (int64, error) {
	n, err := r.st.Exec(ctx,
		`UPDATE posts SET author_nickname = ?, updated_at = ? WHERE author_id = ? AND is_deleted = FALSE`,
		nickname, time.Now().UTC(), authorID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqldb: updating author nickname: %w", err)
	}
	return n, nil
}

// ListWithMentionOf prefilters with two LIKE patterns: "@name" followed by a
// space, or "@name" at the very end of the body. The caller still verifies
// the word boundary before rewriting, so a false positive here costs a
// comparison, not a corrupted post.
func (r *Repository) ListWithMentionOf(ctx context.Context, nickname string) ([]model.Post, error) {
	return r.queryPosts(ctx,
		postSelect+` WHERE p.is_deleted = FALSE AND (p.content LIKE ? OR p.content LIKE ?)`,
		"%@"+nickname+" %", "%@"+nickname,
	)
}

func (r *Repository) UpdateContent(ctx context.Context, id, content string) error {
	_, err := r.st.Exec(ctx,
		`UPDATE posts SET content = ?, updated_at = ? WHERE id = ?`,
		content, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqldb: updating post %s: %w", id, err)
	}
	return nil
}

func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.st.QueryRow(ctx, `SELECT COUNT(*) FROM posts WHERE is_deleted = FALSE`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqldb: counting posts: %w", err)
	}
	return n, nil
}

func (r *Repository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.st.QueryRow(ctx,
		`SELECT COUNT(*) FROM posts WHERE is_deleted = FALSE AND created_at >= ?`, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqldb: counting posts since %s: %w", since, err)
	}
	return n, nil
}

func (r *Repository) queryPosts(ctx context.Context, query string, args ...any) ([]model.Post, error) {
	rows, err := r.st.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing posts: %w", err)
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		var p model.Post
		if err := scanPost(rows, &p); err != nil {
			return nil, fmt.Errorf("sqldb: scanning post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: listing posts: %w", err)
	}
	return posts, nil
}

// scanner is the shared surface of store.Row and store.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPost(s scanner, p *model.Post) error {
	return s.Scan(
		&p.ID, &p.AuthorID, &p.AuthorNickname, &p.Content, &p.ParentID,
		&p.CreatedAt, &p.UpdatedAt, &p.Deleted,
		&p.LikesCount, &p.ResharesCount, &p.RepliesCount,
	)
}
