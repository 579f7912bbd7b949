package selection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redispkg "github.com/Proton-105/himera-analytics/pkg/redis"
)

const selectionKeyPattern = "dashboard:selection:%d"

// ErrSelectionNotFound is returned when no selection was saved for the user.
var ErrSelectionNotFound = errors.New("selection not found")

// Saved is the last bot uid and range a user looked at.
type Saved struct {
	BotID     int64     `json:"bot_id"`
	Range     DateRange `json:"range"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists the selection per Telegram user.
type Store interface {
	Load(ctx context.Context, userID int64) (Saved, error)
	Save(ctx context.Context, userID int64, saved Saved) error
	Clear(ctx context.Context, userID int64) error
}

// RedisStore keeps selections in Redis as JSON with a sliding TTL.
type RedisStore struct {
	kv  redispkg.KV
	ttl time.Duration
	log *slog.Logger
}

// NewRedisStore initializes a Redis-backed Store.
func NewRedisStore(kv redispkg.KV, ttl time.Duration, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}

	return &RedisStore{kv: kv, ttl: ttl, log: log}
}

// Load returns the saved selection or ErrSelectionNotFound.
func (s *RedisStore) Load(ctx context.Context, userID int64) (Saved, error) {
	data, err := s.kv.Get(ctx, selectionKey(userID))
	if err != nil {
		if errors.Is(err, redispkg.ErrNotFound) {
			return Saved{}, ErrSelectionNotFound
		}

		s.log.Error("failed to get selection from redis", "user_id", userID, "error", err)
		return Saved{}, err
	}

	var saved Saved
	if err := json.Unmarshal([]byte(data), &saved); err != nil {
		s.log.Error("failed to decode selection", "user_id", userID, "error", err)
		return Saved{}, err
	}

	return saved, nil
}

// Save stores the selection and refreshes its TTL.
func (s *RedisStore) Save(ctx context.Context, userID int64, saved Saved) error {
	saved.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(saved)
	if err != nil {
		s.log.Error("failed to encode selection", "user_id", userID, "error", err)
		return err
	}

	if err := s.kv.Set(ctx, selectionKey(userID), data, s.ttl); err != nil {
		s.log.Error("failed to save selection in redis", "user_id", userID, "error", err)
		return err
	}

	return nil
}

// Clear removes the saved selection.
func (s *RedisStore) Clear(ctx context.Context, userID int64) error {
	if err := s.kv.Delete(ctx, selectionKey(userID)); err != nil {
		s.log.Error("failed to clear selection", "user_id", userID, "error", err)
		return err
	}

	return nil
}

func selectionKey(userID int64) string {
	return fmt.Sprintf(selectionKeyPattern, userID)
}
