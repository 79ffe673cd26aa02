package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 値が自分のトークンと一致する時だけ DEL
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis は SET NX PX による分散ロック。
type Redis struct {
	client   *redis.Client
	attempts int
	backoff  time.Duration
	log      *zap.Logger
}

func NewRedis(client *redis.Client, log *zap.Logger) *Redis {
	return &Redis{
		client:   client,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		log:      log.Named("lock"),
	}
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	err := retry(ctx, r.attempts, r.backoff, func() (bool, error) {
		ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			r.log.Error("failed to acquire lock redis error", zap.Error(err), zap.String("key", key))
			return false, err
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}

	return func() {
		// 呼び出し元の ctx が切れていても解放はする
		relCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(relCtx, r.client, []string{key}, token).Err(); err != nil {
			r.log.Warn("release lock failed", zap.Error(err), zap.String("key", key))
		}
	}, nil
}
