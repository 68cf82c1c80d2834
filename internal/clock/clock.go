// Package clock はサービス層に注入する時刻の抽象化を提供する。
package clock

import (
	"sync"
	"time"
)

// Clock は現在時刻を返す。
// 本番ではNewSystem、テストではNewFixedまたはNewManualを注入する。
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystem はtime.Nowに基づくClockを返す。時刻は常にUTC。
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

type fixedClock struct {
	now time.Time
}

// NewFixed は常に同じ時刻を返すClockを返す。
func NewFixed(t time.Time) Clock {
	return fixedClock{now: t.UTC()}
}

func (f fixedClock) Now() time.Time {
	return f.now
}

// Manual はテストから時刻を進められるClock。
// 複数goroutineから同時に参照してよい。
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual は指定時刻から開始するManualを返す。
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

// Now は現在の時刻を返す。
func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Advance は時刻をdだけ進める。
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set は時刻をtに設定する。
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}
