package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/resend/resend-go/v2"
)

type mockEmailClient struct {
	sendFn func(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

func (m *mockEmailClient) SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	return m.sendFn(ctx, params)
}

func TestResendSender_Send(t *testing.T) {
	var captured *resend.SendEmailRequest
	s := &ResendSender{
		emails: &mockEmailClient{sendFn: func(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
			captured = params
			return &resend.SendEmailResponse{Id: "email-1"}, nil
		}},
		from: "exams@example.com",
	}

	err := s.Send(context.Background(), Notification{
		Token: "abc", Address: "alice@example.com", Link: "https://exams.example.com/exams/access/abc",
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if captured.From != "exams@example.com" {
		t.Errorf("From = %q", captured.From)
	}
	if len(captured.To) != 1 || captured.To[0] != "alice@example.com" {
		t.Errorf("To = %v", captured.To)
	}
	if captured.Subject != "Exam Link" {
		t.Errorf("Subject = %q", captured.Subject)
	}
	if captured.Text != "Click the link to give the exam: https://exams.example.com/exams/access/abc" {
		t.Errorf("Text = %q", captured.Text)
	}
}

func TestResendSender_SendError(t *testing.T) {
	apiErr := errors.New("rate limited")
	s := &ResendSender{
		emails: &mockEmailClient{sendFn: func(context.Context, *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
			return nil, apiErr
		}},
		from: "exams@example.com",
	}

	if err := s.Send(context.Background(), Notification{Address: "a@example.com"}); !errors.Is(err, apiErr) {
		t.Errorf("expected wrapped api error, got %v", err)
	}
}

func TestNewResendSender_RequiresConfig(t *testing.T) {
	if _, err := NewResendSender("", "exams@example.com"); err == nil {
		t.Error("missing api key should be an error")
	}
	if _, err := NewResendSender("re_test", ""); err == nil {
		t.Error("missing from address should be an error")
	}
	s, err := NewResendSender("re_test", "exams@example.com")
	if err != nil || s == nil {
		t.Fatalf("NewResendSender = %v, %v", s, err)
	}
}

func TestWebhookSender_Send(t *testing.T) {
	var (
		gotBody   webhookPayload
		gotType   string
		gotMethod string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	s := NewWebhookSender(ts.Client(), ts.URL)
	err := s.Send(context.Background(), Notification{Token: "abc", Address: "alice@example.com", Link: "https://x/exams/access/abc"})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %s", gotMethod)
	}
	if gotType != "application/json" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if gotBody.Token != "abc" || gotBody.Address != "alice@example.com" || gotBody.Link != "https://x/exams/access/abc" {
		t.Errorf("payload = %+v", gotBody)
	}
}

func TestWebhookSender_Non2xxIsFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer ts.Close()

	err := NewWebhookSender(ts.Client(), ts.URL).Send(context.Background(), Notification{Token: "abc"})
	if err == nil {
		t.Fatal("expected error for 502")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "upstream unavailable") {
		t.Errorf("error = %v", err)
	}
}

func TestLogSender_LogsLink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(newTestLogger(&buf))

	if err := s.Send(context.Background(), Notification{Address: "a@example.com", Link: "https://x/exams/access/abc"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log is not JSON: %v", err)
	}
	if entry["link"] != "https://x/exams/access/abc" || entry["to"] != "a@example.com" {
		t.Errorf("log entry = %v", entry)
	}
}
