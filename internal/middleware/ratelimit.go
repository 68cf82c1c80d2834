package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	AccessRate      rate.Limit    // 公開の入室エンドポイントのレート（req/sec/IP）
	AccessBurst     int           // 公開の入室エンドポイントのバーストサイズ
	AdminRate       rate.Limit    // 管理者のトークン発行のレート（req/sec/IP）
	AdminBurst      int           // 管理者のトークン発行のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 入室 30 req/min/IP、発行 120 req/min/IP。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return PerMinuteConfig(30, 120)
}

// PerMinuteConfig は1分あたりの許容回数からRateLimiterConfigを組み立てる。
// バーストは1分あたりの回数と同じにする。
func PerMinuteConfig(accessPerMin, adminPerMin int) RateLimiterConfig {
	return RateLimiterConfig{
		AccessRate:      rate.Limit(float64(accessPerMin) / 60.0),
		AccessBurst:     accessPerMin,
		AdminRate:       rate.Limit(float64(adminPerMin) / 60.0),
		AdminBurst:      adminPerMin,
		CleanupInterval: 5 * time.Minute,
	}
}

// clientLimiter はクライアントIPごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// bucketSet は1種類のレート制限についてIPごとのリミッターを管理する。
type bucketSet struct {
	name  string
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

func newBucketSet(name string, limit rate.Limit, burst int) *bucketSet {
	return &bucketSet{
		name:     name,
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*clientLimiter),
	}
}

// get はIPのリミッターを取得または作成する。
func (b *bucketSet) get(ip string, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	cl, ok := b.limiters[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(b.limit, b.burst)}
		b.limiters[ip] = cl
	}
	cl.lastAccess = now
	return cl.limiter
}

// evict は最終アクセスがttlより古いエントリを削除する。
func (b *bucketSet) evict(now time.Time, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ip, cl := range b.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(b.limiters, ip)
		}
	}
}

func (b *bucketSet) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.limiters)
}

// middleware はこのバケットで制限するミドルウェアを返す。
func (b *bucketSet) middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !b.get(ip, time.Now()).Allow() {
				slog.Warn("rate limit exceeded",
					slog.String("remote_ip", ip),
					slog.String("limit_type", b.name),
				)
				writeRateLimitResponse(w, b.limit)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter はクライアントIPごとのレート制限を管理する。
// 公開の入室エンドポイント用と管理者の発行用の2種類を独立に提供する。
type RateLimiter struct {
	config RateLimiterConfig
	access *bucketSet
	admin  *bucketSet

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config: config,
		access: newBucketSet("access", config.AccessRate, config.AccessBurst),
		admin:  newBucketSet("admin", config.AdminRate, config.AdminBurst),
		stopCh: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// AccessMiddleware は公開の入室エンドポイント用のレート制限ミドルウェアを返す。
func (rl *RateLimiter) AccessMiddleware() func(next http.Handler) http.Handler {
	return rl.access.middleware()
}

// AdminMiddleware は管理者のトークン発行用のレート制限ミドルウェアを返す。
func (rl *RateLimiter) AdminMiddleware() func(next http.Handler) http.Handler {
	return rl.admin.middleware()
}

// AccessLimiterCount は管理中の入室リミッター数を返す。
func (rl *RateLimiter) AccessLimiterCount() int {
	return rl.access.count()
}

// AdminLimiterCount は管理中の発行リミッター数を返す。
func (rl *RateLimiter) AdminLimiterCount() int {
	return rl.admin.count()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.access.evict(now, ttl)
	rl.admin.evict(now, ttl)
}

// clientIP はRemoteAddrからポートを除いたIPを返す。
// プロキシ配下ではNewTrustedRealIPMiddlewareを前段に置き、RemoteAddrを書き換えておく。
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが1つ補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteError(w, http.StatusTooManyRequests, CodeRateLimitExceeded, "Too many requests. Please try again later.")
}
