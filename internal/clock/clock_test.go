package clock

import (
	"sync"
	"testing"
	"time"
)

func TestNewSystem_ReturnsUTC(t *testing.T) {
	now := NewSystem().Now()
	if now.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", now.Location())
	}
}

func TestNewFixed_AlwaysReturnsSameInstant(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.FixedZone("JST", 9*60*60))
	c := NewFixed(base)

	if !c.Now().Equal(base) {
		t.Errorf("Now() = %v, want %v", c.Now(), base)
	}
	if c.Now().Location() != time.UTC {
		t.Errorf("location = %v, want UTC", c.Now().Location())
	}
}

func TestManual_AdvanceAndSet(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(base)

	c.Advance(10 * time.Minute)
	if want := base.Add(10 * time.Minute); !c.Now().Equal(want) {
		t.Errorf("after Advance: Now() = %v, want %v", c.Now(), want)
	}

	later := base.Add(2 * time.Hour)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("after Set: Now() = %v, want %v", c.Now(), later)
	}
}

// TestManual_ConcurrentAccess は-raceで並行アクセスが安全であることを確認する。
func TestManual_ConcurrentAccess(t *testing.T) {
	c := NewManual(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
		}()
		go func() {
			defer wg.Done()
			_ = c.Now()
		}()
	}
	wg.Wait()

	want := time.Date(2026, 3, 1, 0, 0, 10, 0, time.UTC)
	if !c.Now().Equal(want) {
		t.Errorf("Now() = %v, want %v", c.Now(), want)
	}
}
