package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/chirp/internal/apperror"
	"github.com/sakif/chirp/internal/mention"
	"github.com/sakif/chirp/internal/metrics"
	"github.com/sakif/chirp/internal/model"
	"github.com/sakif/chirp/internal/repository"
)

const MaxNicknameRunes = 20

// Nicknames allow ASCII word characters plus the Japanese scripts
// (hiragana, katakana, and the common CJK ranges) — the alias dictionary
// names must be registrable.
var nicknamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\x{3040}-\x{309F}\x{30A0}-\x{30FF}\x{4E00}-\x{9FAF}\x{3400}-\x{4DBF}ー]+$`)

// PropagationResult reports how many bodies a rename actually rewrote. The
// counts cover in-text @mention rewrites only — the unconditional author-name
// refresh is not included.
type PropagationResult struct {
	PostsUpdated   int `json:"postsUpdated"`
	RepliesUpdated int `json:"repliesUpdated"`
}

// UserService owns registration and the nickname-change propagation.
type UserService struct {
	users    repository.Users
	posts    repository.Posts
	mentions repository.Mentions
	logger   *slog.Logger

	// renames serializes propagation per user. Two concurrent renames of
	// the same user would interleave read-then-write cycles; unrelated
	// users proceed in parallel.
	renames *keyedMutex
}

func NewUserService(users repository.Users, posts repository.Posts, mentions repository.Mentions, logger *slog.Logger) *UserService {
	return &UserService{
		users:    users,
		posts:    posts,
		mentions: mentions,
		logger:   logger,
		renames:  newKeyedMutex(),
	}
}

// Register creates the user for a new device, or updates the nickname for a
// known one. A nickname change triggers the full propagation; its result is
// non-nil only in that case.
func (s *UserService) Register(ctx context.Context, deviceID, nickname string) (*model.User, *PropagationResult, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, nil, apperror.ValidationFailed("deviceId", "device ID is required")
	}
	nickname = strings.TrimSpace(nickname)
	if err := validateNickname(nickname); err != nil {
		return nil, nil, err
	}

	taken, err := s.users.NicknameTaken(ctx, nickname, deviceID)
	if err != nil {
		return nil, nil, fmt.Errorf("checking nickname: %w", err)
	}
	if taken {
		return nil, nil, apperror.Conflict(fmt.Sprintf("nickname %q is already taken", nickname))
	}

	existing, err := s.users.GetByDeviceID(ctx, deviceID)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return nil, nil, err
	}

	user, err := s.users.Upsert(ctx, deviceID, nickname)
	if err != nil {
		return nil, nil, fmt.Errorf("saving user: %w", err)
	}

	if existing == nil || existing.Nickname == nickname {
		s.logger.Info("user registered",
			slog.String("id", user.ID),
			slog.String("nickname", nickname),
		)
		return user, nil, nil
	}

	result, err := s.Propagate(ctx, user.ID, existing.Nickname, nickname)
	if err != nil {
		// The user row already carries the new name; stale @oldName
		// references remain until the next successful propagation.
		return nil, nil, fmt.Errorf("propagating rename: %w", err)
	}
	s.logger.Info("user renamed",
		slog.String("id", user.ID),
		slog.String("from", existing.Nickname),
		slog.String("to", nickname),
		slog.Int("postsUpdated", result.PostsUpdated),
		slog.Int("repliesUpdated", result.RepliesUpdated),
	)
	return user, result, nil
}

// Get returns the user for a device.
func (s *UserService) Get(ctx context.Context, deviceID string) (*model.User, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, apperror.ValidationFailed("deviceId", "device ID is required")
	}
	return s.users.GetByDeviceID(ctx, deviceID)
}

// Ping refreshes the device's last-active timestamp.
func (s *UserService) Ping(ctx context.Context, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return apperror.ValidationFailed("deviceId", "device ID is required")
	}
	if _, err := s.users.GetByDeviceID(ctx, deviceID); err != nil {
		return err
	}
	return s.users.TouchActivity(ctx, deviceID)
}

// Propagate pushes a nickname change through historical content:
//
//  1. refresh the denormalized author name on every non-deleted post by the
//     user,
//  2. rewrite word-boundary-terminated "@oldName" occurrences in affected
//     bodies (skipping bodies the rewrite leaves unchanged),
//  3. rename oldName to newName across the mention index.
//
// The sequence is best-effort, not transactional: a failure mid-way leaves
// earlier steps applied and some old-name references un-rewritten. That is
// the accepted failure mode — re-running the rename repairs it, and no step
// can produce duplicate or corrupt index rows.
func (s *UserService) Propagate(ctx context.Context, userID, oldName, newName string) (*PropagationResult, error) {
	s.renames.Lock(userID)
	defer s.renames.Unlock(userID)
	defer metrics.ObservePropagation(time.Now())

	if _, err := s.posts.UpdateAuthorNickname(ctx, userID, newName); err != nil {
		return nil, fmt.Errorf("updating author name: %w", err)
	}

	affected, err := s.posts.ListWithMentionOf(ctx, oldName)
	if err != nil {
		return nil, fmt.Errorf("finding posts mentioning %s: %w", oldName, err)
	}

	result := &PropagationResult{}
	for i := range affected {
		p := &affected[i]
		rewritten := mention.ReplaceHandle(p.Content, oldName, newName)
		if rewritten == p.Content {
			// LIKE prefilter false positive; the boundary check said no.
			continue
		}
		if err := s.posts.UpdateContent(ctx, p.ID, rewritten); err != nil {
			return nil, fmt.Errorf("rewriting post %s: %w", p.ID, err)
		}
		if p.IsReply() {
			result.RepliesUpdated++
		} else {
			result.PostsUpdated++
		}
	}

	if _, err := s.mentions.RewriteReferences(ctx, oldName, newName); err != nil {
		return nil, fmt.Errorf("rewriting mention index: %w", err)
	}
	return result, nil
}

func validateNickname(nickname string) error {
	if nickname == "" {
		return apperror.ValidationFailed("nickname", "nickname is required")
	}
	if utf8.RuneCountInString(nickname) > MaxNicknameRunes {
		return apperror.ValidationFailed("nickname",
			fmt.Sprintf("nickname must be %d characters or less", MaxNicknameRunes))
	}
	if !nicknamePattern.MatchString(nickname) {
		return apperror.ValidationFailed("nickname",
			"nickname may only contain letters, digits, underscores, and Japanese characters")
	}
	return nil
}
