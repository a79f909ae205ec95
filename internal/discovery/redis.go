package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"party-cards/internal/common/clock"

	"github.com/redis/go-redis/v9"
)

const (
	// Key prefixes for Redis
	sessionKeyPrefix           = "session:"
	identitySessionKeyPrefix   = "identity_session:"
	sessionIdentitiesKeyPrefix = "session_identities:"
)

var (
	// ErrSessionNotFound is returned when a session code is not registered
	ErrSessionNotFound = errors.New("session not found")

	// ErrIdentityInOtherSession is returned when an identity is already bound
	// to a different session
	ErrIdentityInOtherSession = errors.New("identity is bound to another session")
)

// Config holds configuration for the Redis registry
type Config struct {
	// Redis client
	RedisClient *redis.Client

	// TTL expires registrations that are not refreshed. Zero keeps them
	// until removed.
	TTL time.Duration

	// Clock stamps registrations; defaults to the system clock
	Clock clock.Clock
}

// redisRegistry implements the Registry interface using Redis
type redisRegistry struct {
	client *redis.Client
	ttl    time.Duration
	clock  clock.Clock
}

// NewRedis creates a new Redis-backed session registry
func NewRedis(cfg *Config) (*redisRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if cfg.RedisClient == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	if err := cfg.RedisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c := cfg.Clock
	if c == nil {
		c = &clock.DefaultClock{}
	}

	return &redisRegistry{
		client: cfg.RedisClient,
		ttl:    cfg.TTL,
		clock:  c,
	}, nil
}

func sessionKey(code string) string {
	return fmt.Sprintf("%s%s", sessionKeyPrefix, code)
}

func identityKey(identity string) string {
	return fmt.Sprintf("%s%s", identitySessionKeyPrefix, identity)
}

func membersKey(code string) string {
	return fmt.Sprintf("%s%s", sessionIdentitiesKeyPrefix, code)
}

// RegisterSession records where a session is hosted and refreshes its TTL
func (r *redisRegistry) RegisterSession(ctx context.Context, input *RegisterSessionInput) error {
	if input == nil {
		return errors.New("input cannot be nil")
	}
	if input.Code == "" {
		return errors.New("session code cannot be empty")
	}

	session := Session{
		Code:         input.Code,
		Address:      input.Address,
		RegisteredAt: r.clock.Now(),
	}
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, sessionKey(input.Code), sessionJSON, r.ttl)
	if r.ttl > 0 {
		pipe.Expire(ctx, membersKey(input.Code), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}

	return nil
}

// ResolveSession returns where a session is hosted
func (r *redisRegistry) ResolveSession(ctx context.Context, input *ResolveSessionInput) (*Session, error) {
	if input == nil {
		return nil, errors.New("input cannot be nil")
	}
	if input.Code == "" {
		return nil, errors.New("session code cannot be empty")
	}

	sessionJSON, err := r.client.Get(ctx, sessionKey(input.Code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(sessionJSON, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

// SessionExists reports whether a session code is registered
func (r *redisRegistry) SessionExists(ctx context.Context, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	n, err := r.client.Exists(ctx, sessionKey(code)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return n > 0, nil
}

// RemoveSession forgets a session and releases every identity still bound to it
func (r *redisRegistry) RemoveSession(ctx context.Context, input *RemoveSessionInput) error {
	if input == nil {
		return errors.New("input cannot be nil")
	}
	if input.Code == "" {
		return errors.New("session code cannot be empty")
	}

	identities, err := r.client.SMembers(ctx, membersKey(input.Code)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to get session identities: %w", err)
	}

	for _, identity := range identities {
		if err := r.release(ctx, identity, input.Code); err != nil {
			return err
		}
	}

	pipe := r.client.Pipeline()
	pipe.Del(ctx, sessionKey(input.Code))
	pipe.Del(ctx, membersKey(input.Code))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}

	return nil
}

// BindIdentity attaches an identity to a session. Binding again to the same
// session is a no-op that refreshes the TTL.
func (r *redisRegistry) BindIdentity(ctx context.Context, input *BindIdentityInput) error {
	if input == nil {
		return errors.New("input cannot be nil")
	}
	if input.Identity == "" || input.Code == "" {
		return errors.New("identity and session code cannot be empty")
	}

	key := identityKey(input.Identity)
	ok, err := r.client.SetNX(ctx, key, input.Code, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to bind identity: %w", err)
	}
	if !ok {
		current, err := r.client.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to get identity binding: %w", err)
		}
		if current != input.Code {
			return ErrIdentityInOtherSession
		}
		if r.ttl > 0 {
			r.client.Expire(ctx, key, r.ttl)
		}
	}

	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, membersKey(input.Code), input.Identity)
	if r.ttl > 0 {
		pipe.Expire(ctx, membersKey(input.Code), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record session identity: %w", err)
	}

	return nil
}

// BelongsTo reports whether an identity is bound to a session
func (r *redisRegistry) BelongsTo(ctx context.Context, input *BelongsToInput) (bool, error) {
	if input == nil {
		return false, errors.New("input cannot be nil")
	}

	current, err := r.client.Get(ctx, identityKey(input.Identity)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get identity binding: %w", err)
	}

	return current == input.Code, nil
}

// ReleaseIdentity drops an identity's binding if it points at the given session
func (r *redisRegistry) ReleaseIdentity(ctx context.Context, input *ReleaseIdentityInput) error {
	if input == nil {
		return errors.New("input cannot be nil")
	}
	if input.Identity == "" || input.Code == "" {
		return errors.New("identity and session code cannot be empty")
	}

	if err := r.release(ctx, input.Identity, input.Code); err != nil {
		return err
	}
	if err := r.client.SRem(ctx, membersKey(input.Code), input.Identity).Err(); err != nil {
		return fmt.Errorf("failed to remove session identity: %w", err)
	}

	return nil
}

// release deletes the identity binding only while it still names code, so a
// concurrent rebind to another session survives.
func (r *redisRegistry) release(ctx context.Context, identity, code string) error {
	key := identityKey(identity)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if current != code {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("failed to release identity: %w", err)
	}
	return nil
}
