package alerting

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/fieldsense/alertd/internal/conf"
)

const (
	fieldDebounce = "debounce"
	fieldCooldown = "cooldown"

	lockRetryInterval = 25 * time.Millisecond
	unlockTimeout     = 2 * time.Second
	resetScanCount    = 200
)

// unlockScript deletes the lock only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps suppression state in Redis so several instances share it.
// Each key is a hash of unix-nano timestamps; locks are SET NX entries with a
// random token and a TTL.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	lockTTL time.Duration
}

// NewRedisClient creates a client for the given settings.
func NewRedisClient(settings conf.RedisSettings) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     settings.Addr,
		Password: settings.Password,
		DB:       settings.DB,
	})
}

// NewRedisStore creates a RedisStore. ttl bounds how long a state outlives its
// last update.
func NewRedisStore(client *redis.Client, prefix string, ttl, lockTTL time.Duration) *RedisStore {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, lockTTL: lockTTL}
}

func (r *RedisStore) stateKey(key Key) string {
	return r.prefix + "state:" + key.String()
}

func (r *RedisStore) lockKey(key Key) string {
	return r.prefix + "lock:" + key.String()
}

func (r *RedisStore) Lock(ctx context.Context, key Key) (func(), error) {
	lockKey := r.lockKey(key)
	token := uuid.NewString()

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, r.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", lockKey, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()
			_ = unlockScript.Run(ctx, r.client, []string{lockKey}, token).Err()
		})
	}, nil
}

func (r *RedisStore) Load(ctx context.Context, key Key) (State, error) {
	fields, err := r.client.HGetAll(ctx, r.stateKey(key)).Result()
	if err != nil {
		return State{}, fmt.Errorf("load state %s: %w", key, err)
	}
	var state State
	if state.LastDebounceAt, err = parseNanos(fields[fieldDebounce]); err != nil {
		return State{}, fmt.Errorf("decode %s of %s: %w", fieldDebounce, key, err)
	}
	if state.LastCooldownAt, err = parseNanos(fields[fieldCooldown]); err != nil {
		return State{}, fmt.Errorf("decode %s of %s: %w", fieldCooldown, key, err)
	}
	return state, nil
}

func (r *RedisStore) Save(ctx context.Context, key Key, state State) error {
	stateKey := r.stateKey(key)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, stateKey,
			fieldDebounce, formatNanos(state.LastDebounceAt),
			fieldCooldown, formatNanos(state.LastCooldownAt),
		)
		if r.ttl > 0 {
			pipe.PExpire(ctx, stateKey, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save state %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Reset(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"state:*", resetScanCount).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == resetScanCount {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("reset suppression state: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan suppression state: %w", err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("reset suppression state: %w", err)
		}
	}
	return nil
}

func formatNanos(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseNanos(s string) (time.Time, error) {
	if s == "" || s == "0" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n), nil
}
