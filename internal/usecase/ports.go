package usecase

import (
	"context"
	"encoding/json"
	"time"

	"marketplace/internal/event"

	"go.uber.org/zap"
)

// 分散ロック（Redis / プロセス内）
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// コミット後に通知する。失敗はログだけ
func publish(ctx context.Context, pub event.Publisher, log *zap.Logger, key, eventType string, payload interface{}) {
	if pub == nil {
		return
	}
	env, err := event.New(eventType, payload)
	if err != nil {
		log.Warn("build event failed", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if err := pub.Publish(ctx, key, env); err != nil {
		log.Warn("publish event failed",
			zap.String("event_type", eventType),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// 監査ログ用
func toJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
