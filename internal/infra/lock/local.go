package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Local はプロセス内のキー単位ロック（Redisが無い環境用）。
// TTLを過ぎた保持は奪える。
type Local struct {
	mu       sync.Mutex
	held     map[string]localHold
	attempts int
	backoff  time.Duration
	now      func() time.Time
}

type localHold struct {
	token     string
	expiresAt time.Time
}

func NewLocal() *Local {
	return &Local{
		held:     make(map[string]localHold),
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		now:      time.Now,
	}
}

func (l *Local) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	err := retry(ctx, l.attempts, l.backoff, func() (bool, error) {
		return l.tryAcquire(key, token, ttl), nil
	})
	if err != nil {
		return nil, err
	}
	return func() { l.release(key, token) }, nil
}

func (l *Local) tryAcquire(key, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expiresAt) {
		return false
	}
	l.held[key] = localHold{token: token, expiresAt: now.Add(ttl)}
	return true
}

// 自分のトークンの時だけ消す
func (l *Local) release(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.held[key]; ok && h.token == token {
		delete(l.held, key)
	}
}
