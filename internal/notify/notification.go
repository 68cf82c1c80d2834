// Package notify は発行したトークンを受験者へ非同期に届ける。
// 配送はキューとワーカーで発行処理から切り離され、失敗は発行結果に影響しない。
package notify

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// accessPath はトークンを使用する公開エンドポイントのパス。
const accessPath = "/exams/access/"

// Notification は1件の配送ジョブ。
type Notification struct {
	Token      string
	Address    string
	Link       string
	EnqueuedAt time.Time
}

// Sender は通知を1回送信する。リトライはDispatcherが行う。
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// SenderFunc は関数をSenderとして使うためのアダプタ。
type SenderFunc func(ctx context.Context, n Notification) error

// Send はf(ctx, n)を呼ぶ。
func (f SenderFunc) Send(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// BuildLink は受験者に送る入室リンクを組み立てる。
func BuildLink(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + accessPath + url.PathEscape(token)
}

// MaskAddress はログ用に宛先のローカル部を伏せる。"alice@example.com" → "a***@example.com"。
func MaskAddress(address string) string {
	at := strings.LastIndex(address, "@")
	if at <= 0 {
		return "***"
	}
	local := []rune(address[:at])
	return string(local[0]) + "***" + address[at:]
}
