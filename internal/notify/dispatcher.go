package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/examgate/internal/clock"
	"golang.org/x/sync/errgroup"
)

// 配送結果のラベル
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
)

// Recorder は配送結果とキュー長を記録する（メトリクス用）。
type Recorder interface {
	RecordNotification(result string)
	SetQueueDepth(depth int)
}

type nopRecorder struct{}

func (nopRecorder) RecordNotification(string) {}
func (nopRecorder) SetQueueDepth(int)         {}

// Config はDispatcherの設定。
type Config struct {
	BaseURL     string
	Workers     int
	QueueSize   int
	MaxAttempts int
	SendTimeout time.Duration
}

// Option はDispatcherの任意設定。
type Option func(*Dispatcher)

// WithRecorder は結果の記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

// WithBackoff は再送までの遅延計算を差し替える。
func WithBackoff(fn func(failures int) time.Duration) Option {
	return func(d *Dispatcher) {
		d.backoff = fn
	}
}

// WithClock はEnqueuedAtに使う時刻源を差し替える。
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

// Dispatcher は有界キューとワーカー群で通知を配送する。
// Enqueueはキューが満杯でもブロックせず、その通知を破棄する。
type Dispatcher struct {
	sender   Sender
	logger   *slog.Logger
	cfg      Config
	recorder Recorder
	backoff  func(failures int) time.Duration
	clock    clock.Clock

	queue chan Notification

	mu      sync.RWMutex
	closed  bool
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDispatcher はDispatcherを生成する。
// Workers, QueueSize, MaxAttemptsが0以下の場合は既定値（4, 256, 5）を使う。
func NewDispatcher(sender Sender, logger *slog.Logger, cfg Config, opts ...Option) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	d := &Dispatcher{
		sender:   sender,
		logger:   logger,
		cfg:      cfg,
		recorder: nopRecorder{},
		backoff:  CalculateBackoff,
		clock:    clock.NewSystem(),
		queue:    make(chan Notification, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue は通知をキューに積む。ブロックせず、エラーも返さない。
func (d *Dispatcher) Enqueue(token, address string) {
	n := Notification{
		Token:      token,
		Address:    address,
		Link:       BuildLink(d.cfg.BaseURL, token),
		EnqueuedAt: d.clock.Now(),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("notification dropped: dispatcher stopped",
			slog.String("address", MaskAddress(address)),
		)
		d.recorder.RecordNotification(ResultDropped)
		return
	}

	select {
	case d.queue <- n:
		d.recorder.SetQueueDepth(len(d.queue))
	default:
		d.logger.Warn("notification dropped: queue full",
			slog.String("address", MaskAddress(address)),
			slog.Int("queue_size", d.cfg.QueueSize),
		)
		d.recorder.RecordNotification(ResultDropped)
	}
}

// Start はワーカーを起動する。ワーカーはStopまたはctxの終了まで動作する。
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			d.work(gctx)
			return nil
		})
	}

	d.logger.Info("notification dispatcher started",
		slog.Int("workers", d.cfg.Workers),
		slog.Int("queue_size", d.cfg.QueueSize),
	)

	go func() {
		_ = g.Wait()
		close(d.done)
	}()
}

// Stop は新規の受け付けを止め、キューに残った通知を配送し終えるまで待つ。
// ctxが先に終了した場合は配送中の通知を打ち切ってctx.Err()を返す。
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-d.done:
		d.cancel()
		d.logger.Info("notification dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done
		d.logger.Warn("notification dispatcher stopped before draining queue",
			slog.Int("remaining", len(d.queue)),
		)
		return ctx.Err()
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-d.queue:
			if !ok {
				return
			}
			d.recorder.SetQueueDepth(len(d.queue))
			d.deliver(ctx, n)
		}
	}
}

// deliver は1件の通知を最大MaxAttempts回送信する。
func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	var err error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		err = d.sender.Send(sendCtx, n)
		cancel()

		if err == nil {
			d.logger.Info("notification sent",
				slog.String("address", MaskAddress(n.Address)),
				slog.Int("attempt", attempt),
			)
			d.recorder.RecordNotification(ResultSent)
			return
		}

		if attempt == d.cfg.MaxAttempts {
			break
		}

		delay := d.backoff(attempt - 1)
		d.logger.Warn("notification send failed, retrying",
			slog.String("address", MaskAddress(n.Address)),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)
		if waitErr := sleep(ctx, delay); waitErr != nil {
			err = errors.Join(err, waitErr)
			break
		}
	}

	d.logger.Error("notification delivery failed",
		slog.String("address", MaskAddress(n.Address)),
		slog.Int("max_attempts", d.cfg.MaxAttempts),
		slog.String("error", err.Error()),
	)
	d.recorder.RecordNotification(ResultFailed)
}
