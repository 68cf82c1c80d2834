package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody はエラー時にログへ含めるレスポンス本文の上限。
const maxErrorBody = 512

type webhookPayload struct {
	Token   string `json:"token"`
	Address string `json:"address"`
	Link    string `json:"link"`
}

// WebhookSender は通知をJSONでWebhookへPOSTする。
// 本番ではSSRFGuard.NewSafeClientのクライアントを渡す。
type WebhookSender struct {
	client *http.Client
	url    string
}

// NewWebhookSender はWebhookSenderを生成する。
func NewWebhookSender(client *http.Client, url string) *WebhookSender {
	return &WebhookSender{client: client, url: url}
}

// Send は通知を1回POSTする。2xx以外は失敗として扱う。
func (s *WebhookSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(webhookPayload{Token: n.Token, Address: n.Address, Link: n.Link})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "examgate-notifier/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
