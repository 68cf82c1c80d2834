package notify

import (
	"context"
	"time"
)

const (
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 1 * time.Second
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = 1 * time.Minute
)

// CalculateBackoff は失敗回数に基づいて次の送信までの遅延を計算する。
// 初回1秒、2倍ずつ増加、最大1分。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// sleep はdだけ待つ。ctxが先に終了した場合はctx.Err()を返す。
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
