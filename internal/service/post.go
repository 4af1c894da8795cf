package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/chirp/internal/apperror"
	"github.com/sakif/chirp/internal/mention"
	"github.com/sakif/chirp/internal/metrics"
	"github.com/sakif/chirp/internal/model"
	"github.com/sakif/chirp/internal/repository"
)

const (
	DefaultFeedLimit = 20
	MaxFeedLimit     = 100

	// DefaultDuplicateWindow is the span within which an identical body from
	// the same author is treated as an accidental double-submit. It is an
	// anti-spam heuristic, not a correctness rule, and is configurable down
	// to zero (disabled).
	DefaultDuplicateWindow = 60 * time.Second

	// dupLookback is how many recent posts per author the duplicate check
	// inspects. Anything older than that is past the window anyway at any
	// realistic posting rate.
	dupLookback = 10
)

// PostService owns post creation, engagement toggles, deletion, and the read
// surface (feed, replies, search, trending, stats).
type PostService struct {
	users       repository.Users
	posts       repository.Posts
	engagements repository.Engagements
	hashtags    repository.Hashtags
	mentions    repository.Mentions
	bc          Broadcaster
	logger      *slog.Logger
	dupWindow   time.Duration
	aliases     []string
}

func NewPostService(
	users repository.Users,
	posts repository.Posts,
	engagements repository.Engagements,
	hashtags repository.Hashtags,
	mentions repository.Mentions,
	bc Broadcaster,
	logger *slog.Logger,
	dupWindow time.Duration,
) *PostService {
	if bc == nil {
		bc = NopBroadcaster{}
	}
	return &PostService{
		users:       users,
		posts:       posts,
		engagements: engagements,
		hashtags:    hashtags,
		mentions:    mentions,
		bc:          bc,
		logger:      logger,
		dupWindow:   dupWindow,
		aliases:     mention.DefaultAliases,
	}
}

// Create validates and persists a new post or reply, records its hashtags
// and mentions in the same transaction, and broadcasts it to authenticated
// sessions.
//
// displayName only matters on first contact, when it registers the device.
// For a known device the stored nickname wins — renames must go through
// UserService.Register so the propagator runs.
func (s *PostService) Create(ctx context.Context, deviceID, displayName, text, parentID string) (*model.Post, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, apperror.ValidationFailed("deviceId", "device ID is required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperror.ValidationFailed("content", "post content is required")
	}
	if n := utf8.RuneCountInString(text); n > model.MaxContentRunes {
		return nil, apperror.ValidationFailed("content",
			fmt.Sprintf("post content must be %d characters or less", model.MaxContentRunes))
	}

	author, err := s.resolveAuthor(ctx, deviceID, displayName)
	if err != nil {
		return nil, err
	}

	if parentID != "" {
		parent, err := s.posts.GetByID(ctx, parentID)
		if err != nil {
			return nil, err
		}
		if parent.Deleted {
			return nil, apperror.NotFound("post", parentID)
		}
	}

	if err := s.checkDuplicate(ctx, author.ID, text); err != nil {
		return nil, err
	}

	post := &model.Post{
		AuthorID:       author.ID,
		AuthorNickname: author.Nickname,
		Content:        text,
		ParentID:       parentID,
	}
	tags := mention.ExtractHashtags(text)
	mentions := mention.Extract(text, s.aliases)

	if err := s.posts.Create(ctx, post, tags, mentions); err != nil {
		metrics.StoreErrors.Inc()
		s.logger.Error("failed to create post",
			slog.String("author", author.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating post: %w", err)
	}

	event, kind := EventNewPost, "post"
	if post.IsReply() {
		event, kind = EventNewReply, "reply"
	}
	metrics.PostsCreated.WithLabelValues(kind).Inc()
	s.bc.Broadcast(event, post)

	s.logger.Info("post created",
		slog.String("id", post.ID),
		slog.String("author", author.Nickname),
		slog.Int("mentions", len(mentions)),
		slog.Int("hashtags", len(tags)),
		slog.Bool("reply", post.IsReply()),
	)
	return post, nil
}

func (s *PostService) resolveAuthor(ctx context.Context, deviceID, displayName string) (*model.User, error) {
	author, err := s.users.GetByDeviceID(ctx, deviceID)
	if err == nil {
		if tErr := s.users.TouchActivity(ctx, deviceID); tErr != nil {
			s.logger.Warn("failed to touch activity", slog.String("error", tErr.Error()))
		}
		return author, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}

	// First contact registers the device, so the display name goes through
	// the same checks as the register endpoint: charset, length, and
	// uniqueness among active users.
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, apperror.ValidationFailed("nickname", "nickname is required for a new device")
	}
	if err := validateNickname(displayName); err != nil {
		return nil, err
	}
	taken, err := s.users.NicknameTaken(ctx, displayName, deviceID)
	if err != nil {
		return nil, fmt.Errorf("checking nickname: %w", err)
	}
	if taken {
		return nil, apperror.Conflict(fmt.Sprintf("nickname %q is already taken", displayName))
	}
	author, err = s.users.Upsert(ctx, deviceID, displayName)
	if err != nil {
		return nil, fmt.Errorf("registering author: %w", err)
	}
	return author, nil
}

func (s *PostService) checkDuplicate(ctx context.Context, authorID, text string) error {
	if s.dupWindow <= 0 {
		return nil
	}
	recent, err := s.posts.RecentByAuthor(ctx, authorID, dupLookback)
	if err != nil {
		return fmt.Errorf("checking recent posts: %w", err)
	}
	cutoff := time.Now().UTC().Add(-s.dupWindow)
	for _, p := range recent {
		if p.Content == text && p.CreatedAt.After(cutoff) {
			return apperror.Conflict("identical post submitted moments ago")
		}
	}
	return nil
}

// EngagementUpdate is the payload broadcast when a toggle lands.
type EngagementUpdate struct {
	Action string         `json:"action"`
	Kind   string         `json:"kind"`
	Post   *model.Post    `json:"post"`
	UserID string         `json:"userId"`
}

// ToggleEngagement flips the like or reshare state of (post, user) and
// returns the resulting action ("added" or "removed") together with the
// post's refreshed counts.
func (s *PostService) ToggleEngagement(ctx context.Context, postID, deviceID string, kind model.EngagementKind) (string, *model.Post, error) {
	if !kind.Valid() {
		return "", nil, apperror.ValidationFailed("kind", "engagement kind must be like or reshare")
	}
	user, err := s.users.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return "", nil, err
	}
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return "", nil, err
	}
	if post.Deleted {
		return "", nil, apperror.NotFound("post", postID)
	}

	added, err := s.engagements.Toggle(ctx, post.ID, user.ID, kind)
	if err != nil {
		metrics.StoreErrors.Inc()
		return "", nil, fmt.Errorf("toggling engagement: %w", err)
	}
	action := "removed"
	if added {
		action = "added"
	}

	// Reload so the broadcast carries the post's current counts.
	post, err = s.posts.GetByID(ctx, postID)
	if err != nil {
		return "", nil, err
	}

	metrics.EngagementToggles.WithLabelValues(string(kind), action).Inc()
	s.bc.Broadcast(EventEngagementUpdate, &EngagementUpdate{
		Action: action,
		Kind:   string(kind),
		Post:   post,
		UserID: user.ID,
	})

	s.logger.Info("engagement toggled",
		slog.String("post", postID),
		slog.String("kind", string(kind)),
		slog.String("action", action),
	)
	return action, post, nil
}

// PostDeleted is the payload broadcast when a post is soft-deleted.
type PostDeleted struct {
	PostID string `json:"postId"`
}

// Delete soft-deletes a post. Only the author may delete their own post.
func (s *PostService) Delete(ctx context.Context, postID, deviceID string) error {
	user, err := s.users.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return err
	}
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post.Deleted {
		return apperror.NotFound("post", postID)
	}
	if post.AuthorID != user.ID {
		return apperror.Forbidden("only the author can delete a post")
	}

	if err := s.posts.SoftDelete(ctx, postID); err != nil {
		return err
	}
	s.bc.Broadcast(EventPostDeleted, &PostDeleted{PostID: postID})
	s.logger.Info("post deleted", slog.String("id", postID), slog.String("author", user.ID))
	return nil
}

// Get returns the post even when soft-deleted; callers that care inspect the
// Deleted flag.
func (s *PostService) Get(ctx context.Context, id string) (*model.Post, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "post ID is required")
	}
	return s.posts.GetByID(ctx, id)
}

// Mentions lists the mention records extracted from a post's body.
func (s *PostService) Mentions(ctx context.Context, postID string) ([]model.Mention, error) {
	if _, err := s.posts.GetByID(ctx, postID); err != nil {
		return nil, err
	}
	return s.mentions.ListForPost(ctx, postID)
}

// Feed lists non-deleted top-level posts, newest first.
func (s *PostService) Feed(ctx context.Context, limit, offset int) ([]model.Post, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	posts, err := s.posts.List(ctx, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("listing feed: %w", err)
	}
	return posts, nil
}

// Replies lists the non-deleted replies to a post, oldest first.
func (s *PostService) Replies(ctx context.Context, postID string, limit int) ([]model.Post, error) {
	if _, err := s.posts.GetByID(ctx, postID); err != nil {
		return nil, err
	}
	return s.posts.ListReplies(ctx, postID, clampLimit(limit))
}

// ByHashtag lists posts carrying the tag. The tag is case-folded and the
// leading "#" is optional in the query.
func (s *PostService) ByHashtag(ctx context.Context, tag string, limit int) ([]model.Post, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return nil, apperror.ValidationFailed("tag", "hashtag is required")
	}
	if !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}
	return s.posts.ListByHashtag(ctx, tag, clampLimit(limit))
}

// UserContent is everything the user search returns for one nickname.
type UserContent struct {
	User     *model.User  `json:"user"`
	Posts    []model.Post `json:"posts"`
	Replies  []model.Post `json:"replies"`
	Mentions []model.Post `json:"mentions"`
}

// SearchByUser collects a user's posts, their replies, and the posts that
// mention them or reply to them.
func (s *PostService) SearchByUser(ctx context.Context, nickname string, limit int) (*UserContent, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, apperror.ValidationFailed("nickname", "nickname is required")
	}
	user, err := s.users.GetByNickname(ctx, nickname)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	posts, err := s.posts.ListByAuthor(ctx, user.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing posts by %s: %w", nickname, err)
	}
	replies, err := s.posts.ListRepliesByAuthor(ctx, user.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing replies by %s: %w", nickname, err)
	}
	mentions, err := s.posts.ListMentioning(ctx, nickname, limit)
	if err != nil {
		return nil, fmt.Errorf("listing mentions of %s: %w", nickname, err)
	}
	return &UserContent{User: user, Posts: posts, Replies: replies, Mentions: mentions}, nil
}

// Trending returns the most-used hashtags.
func (s *PostService) Trending(ctx context.Context, limit int) ([]model.Hashtag, error) {
	return s.hashtags.Trending(ctx, clampLimit(limit))
}

// CleanupHashtags removes tags whose posts have all been deleted.
func (s *PostService) CleanupHashtags(ctx context.Context) (int64, error) {
	n, err := s.hashtags.CleanupOrphans(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleaning hashtags: %w", err)
	}
	if n > 0 {
		s.logger.Info("orphan hashtags removed", slog.Int64("count", n))
	}
	return n, nil
}

// Stats assembles the aggregate snapshot. sessions is the live connection
// count, supplied by the realtime hub.
func (s *PostService) Stats(ctx context.Context, sessions int) (*model.Stats, error) {
	users, err := s.users.CountActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}
	posts, err := s.posts.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting posts: %w", err)
	}
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	today, err := s.posts.CountSince(ctx, midnight)
	if err != nil {
		return nil, fmt.Errorf("counting today's posts: %w", err)
	}
	trending, err := s.hashtags.Trending(ctx, 5)
	if err != nil {
		return nil, fmt.Errorf("listing trending hashtags: %w", err)
	}
	return &model.Stats{
		Users:             users,
		Posts:             posts,
		PostsToday:        today,
		TrendingHashtags:  trending,
		ConnectedSessions: sessions,
	}, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultFeedLimit
	}
	if limit > MaxFeedLimit {
		return MaxFeedLimit
	}
	return limit
}
