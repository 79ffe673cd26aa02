package lock

import (
	"context"
	"errors"
	"time"
)

// リトライしても取れなかった
var ErrNotAcquired = errors.New("lock not acquired")

const (
	defaultAttempts = 3
	defaultBackoff  = 100 * time.Millisecond
)

// 取れるまで少し待ってリトライする
func retry(ctx context.Context, attempts int, backoff time.Duration, try func() (bool, error)) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		ok, err := try()
		if err != nil {
			lastErr = err
		}
		if ok {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return ErrNotAcquired
}
