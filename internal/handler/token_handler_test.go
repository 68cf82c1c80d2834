package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/examgate/internal/examtoken"
	"github.com/hitoshi/examgate/internal/middleware"
	"github.com/hitoshi/examgate/internal/model"
	"github.com/hitoshi/examgate/internal/security"
)

// --- モック定義 ---

// mockTokenService はTokenServiceInterfaceのモック実装。
type mockTokenService struct {
	issueFn  func(ctx context.Context, in examtoken.IssueInput) (*examtoken.IssueResult, error)
	redeemFn func(ctx context.Context, token string) (*examtoken.Redemption, error)
}

func (m *mockTokenService) Issue(ctx context.Context, in examtoken.IssueInput) (*examtoken.IssueResult, error) {
	if m.issueFn != nil {
		return m.issueFn(ctx, in)
	}
	return nil, errors.New("issue not configured")
}

func (m *mockTokenService) Redeem(ctx context.Context, token string) (*examtoken.Redemption, error) {
	if m.redeemFn != nil {
		return m.redeemFn(ctx, token)
	}
	return nil, errors.New("redeem not configured")
}

// --- テストヘルパー ---

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseErrorBody はレスポンスボディから統一エラーフォーマットをパースするヘルパー。
func parseErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

var (
	testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	testEnd   = testStart.Add(90 * time.Minute)
)

func newTestTokenHandler(svc TokenServiceInterface) *TokenHandler {
	return NewTokenHandler(svc, security.NewDisplaySanitizer(), nil)
}

func issueRequest(examID, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/exams/"+examID+"/tokens", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return withChiURLParam(req, "examID", examID)
}

// --- POST /exams/{examID}/tokens ---

func TestTokenHandler_IssueToken_Success(t *testing.T) {
	svc := &mockTokenService{
		issueFn: func(ctx context.Context, in examtoken.IssueInput) (*examtoken.IssueResult, error) {
			if in.ExamID != 1 || in.StudentID != 10 || in.ValidMinutes != 30 {
				t.Errorf("input = %+v, want {1 10 30}", in)
			}
			return &examtoken.IssueResult{
				Token:          "tok-abc",
				ContactAddress: "alice@example.com",
				AccessToken: &model.AccessToken{
					ExamID: 1, StudentID: 10, Token: "tok-abc",
					ValidFrom: testStart, ValidUntil: testStart.Add(30 * time.Minute),
				},
			}, nil
		},
	}

	w := httptest.NewRecorder()
	newTestTokenHandler(svc).IssueToken(w, issueRequest("1", `{"student_id": 10, "valid_minutes": 30}`))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var resp issueTokenResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Token != "tok-abc" {
		t.Errorf("token = %q, want tok-abc", resp.Token)
	}
	if resp.Message != "Token generated successfully" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestTokenHandler_IssueToken_BadRequest(t *testing.T) {
	tests := []struct {
		name   string
		examID string
		body   string
	}{
		{"non numeric exam id", "abc", `{"student_id": 10, "valid_minutes": 30}`},
		{"zero exam id", "0", `{"student_id": 10, "valid_minutes": 30}`},
		{"malformed json", "1", `{"student_id": `},
		{"missing student_id", "1", `{"valid_minutes": 30}`},
		{"missing valid_minutes", "1", `{"student_id": 10}`},
		{"string student_id", "1", `{"student_id": "10", "valid_minutes": 30}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &mockTokenService{
				issueFn: func(ctx context.Context, in examtoken.IssueInput) (*examtoken.IssueResult, error) {
					called = true
					return nil, nil
				},
			}

			w := httptest.NewRecorder()
			newTestTokenHandler(svc).IssueToken(w, issueRequest(tt.examID, tt.body))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if called {
				t.Error("service must not be called for invalid requests")
			}
			if body := parseErrorBody(t, w); body.Code != middleware.CodeInvalidRequest {
				t.Errorf("code = %q, want %q", body.Code, middleware.CodeInvalidRequest)
			}
		})
	}
}

// 識別エラー・業務ルールエラーはすべて400でコードをそのまま返す
func TestTokenHandler_IssueToken_BusinessErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"invalid minutes", model.NewInvalidValidMinutesError(0)},
		{"invalid student", model.NewInvalidStudentError(10)},
		{"invalid exam", model.NewInvalidExamError(1)},
		{"exam ended", model.NewExamEndedError()},
		{"window exceeds", model.NewWindowExceedsExamError()},
		{"duplicate", fmt.Errorf("wrapped: %w", model.NewDuplicateTokenError())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockTokenService{
				issueFn: func(ctx context.Context, in examtoken.IssueInput) (*examtoken.IssueResult, error) {
					return nil, tt.err
				},
			}

			w := httptest.NewRecorder()
			newTestTokenHandler(svc).IssueToken(w, issueRequest("1", `{"student_id": 10, "valid_minutes": 30}`))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			var apiErr *model.APIError
			errors.As(tt.err, &apiErr)
			body := parseErrorBody(t, w)
			if body.Code != apiErr.Code {
				t.Errorf("code = %q, want %q", body.Code, apiErr.Code)
			}
			if body.Details != apiErr.Message {
				t.Errorf("details = %q, want %q", body.Details, apiErr.Message)
			}
		})
	}
}

func TestTokenHandler_IssueToken_StoreUnavailable(t *testing.T) {
	svc := &mockTokenService{
		issueFn: func(ctx context.Context, in examtoken.IssueInput) (*examtoken.IssueResult, error) {
			return nil, fmt.Errorf("トークンの保存に失敗しました: %w",
				model.NewStoreUnavailableError(context.DeadlineExceeded))
		},
	}

	w := httptest.NewRecorder()
	newTestTokenHandler(svc).IssueToken(w, issueRequest("1", `{"student_id": 10, "valid_minutes": 30}`))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	body := parseErrorBody(t, w)
	if body.Code != model.ErrCodeStoreUnavailable {
		t.Errorf("code = %q", body.Code)
	}
}

// 想定外のエラーは詳細を隠して500を返す
func TestTokenHandler_IssueToken_UnexpectedError(t *testing.T) {
	svc := &mockTokenService{
		issueFn: func(ctx context.Context, in examtoken.IssueInput) (*examtoken.IssueResult, error) {
			return nil, errors.New("pq: relation does not exist")
		},
	}

	w := httptest.NewRecorder()
	newTestTokenHandler(svc).IssueToken(w, issueRequest("1", `{"student_id": 10, "valid_minutes": 30}`))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	body := parseErrorBody(t, w)
	if body.Code != middleware.CodeInternalError {
		t.Errorf("code = %q", body.Code)
	}
	if body.Details == "pq: relation does not exist" {
		t.Error("internal error details must not leak")
	}
}

// --- GET /exams/access/{token} ---

func accessRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/exams/access/"+token, nil)
	return withChiURLParam(req, "token", token)
}

func TestTokenHandler_AccessExam_Success(t *testing.T) {
	svc := &mockTokenService{
		redeemFn: func(ctx context.Context, token string) (*examtoken.Redemption, error) {
			if token != "tok-abc" {
				t.Errorf("token = %q, want tok-abc", token)
			}
			return &examtoken.Redemption{
				AccessToken: &model.AccessToken{Token: token, IsUsed: true},
				Exam:        &model.Exam{ID: 1, Title: "Go <b>Basics</b>", StartTime: testStart, EndTime: testEnd},
				Student:     &model.Student{ID: 10, Username: "alice", FirstName: "Alice", LastName: "Smith", Email: "alice@example.com"},
			}, nil
		},
	}

	w := httptest.NewRecorder()
	newTestTokenHandler(svc).AccessExam(w, accessRequest("tok-abc"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp accessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Exam.Title != "Go Basics" {
		t.Errorf("exam.title = %q, want markup stripped", resp.Exam.Title)
	}
	if !resp.Exam.StartTime.Equal(testStart) || !resp.Exam.EndTime.Equal(testEnd) {
		t.Errorf("exam times = %v - %v", resp.Exam.StartTime, resp.Exam.EndTime)
	}
	if resp.Student.Name != "Alice Smith" {
		t.Errorf("student.name = %q", resp.Student.Name)
	}
	if resp.Student.Email != "alice@example.com" {
		t.Errorf("student.email = %q", resp.Student.Email)
	}
}

func TestTokenHandler_AccessExam_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", model.NewTokenNotFoundError(), http.StatusNotFound, model.ErrCodeTokenNotFound},
		{"already used", model.NewTokenAlreadyUsedError(), http.StatusBadRequest, model.ErrCodeTokenAlreadyUsed},
		{"expired", model.NewTokenExpiredError(), http.StatusGone, model.ErrCodeTokenExpired},
		{"store unavailable", model.NewStoreUnavailableError(errors.New("lock timeout")), http.StatusServiceUnavailable, model.ErrCodeStoreUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, middleware.CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockTokenService{
				redeemFn: func(ctx context.Context, token string) (*examtoken.Redemption, error) {
					return nil, tt.err
				},
			}

			w := httptest.NewRecorder()
			newTestTokenHandler(svc).AccessExam(w, accessRequest("tok-abc"))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := parseErrorBody(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}
