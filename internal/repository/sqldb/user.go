package sqldb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/chirp/internal/apperror"
	"github.com/sakif/chirp/internal/model"
	"github.com/sakif/chirp/internal/repository"
	"github.com/sakif/chirp/internal/store"
)

var _ repository.Users = (*Repository)(nil)

const userColumns = `id, device_id, nickname, created_at, updated_at, last_active, is_active`

func (r *Repository) GetByDeviceID(ctx context.Context, deviceID string) (*model.User, error) {
	return r.scanUser(r.st.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE device_id = ? AND is_active = TRUE`,
		deviceID,
	), deviceID)
}

func (r *Repository) GetByNickname(ctx context.Context, nickname string) (*model.User, error) {
	return r.scanUser(r.st.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE nickname = ? AND is_active = TRUE`,
		nickname,
	), nickname)
}

func (r *Repository) scanUser(row store.Row, key string) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.DeviceID, &u.Nickname, &u.CreatedAt, &u.UpdatedAt, &u.LastActive, &u.Active)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("sqldb: getting user %s: %w", key, err)
	}
	return &u, nil
}

// Upsert registers the device on first contact; afterwards it refreshes the
// nickname and the activity timestamps. The uniqueness check on nicknames is
// the caller's job — this method only persists.
func (r *Repository) Upsert(ctx context.Context, deviceID, nickname string) (*model.User, error) {
	now := time.Now().UTC()

	n, err := r.st.Exec(ctx,
		`UPDATE users SET nickname = ?, updated_at = ?, last_active = ? WHERE device_id = ?`,
		nickname, now, now, deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqldb: updating user %s: %w", deviceID, err)
	}
	if n == 0 {
		u := &model.User{
			ID:         xid.New().String(),
			DeviceID:   deviceID,
			Nickname:   nickname,
			CreatedAt:  now,
			UpdatedAt:  now,
			LastActive: now,
			Active:     true,
		}
		_, err := r.st.Exec(ctx,
			`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, TRUE)`,
			u.ID, u.DeviceID, u.Nickname, u.CreatedAt, u.UpdatedAt, u.LastActive,
		)
		if err != nil {
			return nil, fmt.Errorf("sqldb: creating user %s: %w", deviceID, err)
		}
		return u, nil
	}

	return r.GetByDeviceID(ctx, deviceID)
}

func (r *Repository) NicknameTaken(ctx context.Context, nickname, exceptDeviceID string) (bool, error) {
	var one int
	err := r.st.QueryRow(ctx,
		`SELECT 1 FROM users WHERE nickname = ? AND device_id != ? AND is_active = TRUE`,
		nickname, exceptDeviceID,
	).Scan(&one)
	if errors.Is(err, store.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqldb: checking nickname %s: %w", nickname, err)
	}
	return true, nil
}

func (r *Repository) TouchActivity(ctx context.Context, deviceID string) error {
	_, err := r.st.Exec(ctx,
		`UPDATE users SET last_active = ? WHERE device_id = ?`,
		time.Now().UTC(), deviceID,
	)
	if err != nil {
		return fmt.Errorf("sqldb: touching activity for %s: %w", deviceID, err)
	}
	return nil
}

func (r *Repository) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.st.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE is_active = TRUE`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqldb: counting users: %w", err)
	}
	return n, nil
}
