package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/examgate/internal/examtoken"
	"github.com/hitoshi/examgate/internal/middleware"
	"github.com/hitoshi/examgate/internal/model"
)

// maxRequestBodyBytes は発行リクエストのボディ上限。
const maxRequestBodyBytes = 1 << 16

// storeRetryAfterSec はSTORE_UNAVAILABLE時に返すRetry-Afterの秒数。
const storeRetryAfterSec = 2

// TokenServiceInterface はトークンハンドラーが必要とするサービスインターフェース。
type TokenServiceInterface interface {
	// Issue は受験トークンを発行する。
	Issue(ctx context.Context, in examtoken.IssueInput) (*examtoken.IssueResult, error)
	// Redeem はトークンを使用済みにし、試験と受験者を返す。
	Redeem(ctx context.Context, token string) (*examtoken.Redemption, error)
}

// TextSanitizer は表示用テキストからマークアップを除去する。
type TextSanitizer interface {
	Text(raw string) string
}

// TokenHandler は受験トークンの発行と入室のHTTPハンドラー。
type TokenHandler struct {
	service   TokenServiceInterface
	sanitizer TextSanitizer
	logger    *slog.Logger
}

// NewTokenHandler はTokenHandlerを生成する。
func NewTokenHandler(service TokenServiceInterface, sanitizer TextSanitizer, logger *slog.Logger) *TokenHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenHandler{
		service:   service,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// issueTokenRequest はトークン発行リクエストのボディ。
// 未指定を検出するためポインタで受ける。
type issueTokenRequest struct {
	StudentID    *int64 `json:"student_id"`
	ValidMinutes *int   `json:"valid_minutes"`
}

// issueTokenResponse はトークン発行成功時のレスポンス。
type issueTokenResponse struct {
	Token   string `json:"token"`
	Message string `json:"message"`
}

type examResponse struct {
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type studentResponse struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// accessResponse は入室成功時のレスポンス。
type accessResponse struct {
	Exam    examResponse    `json:"exam"`
	Student studentResponse `json:"student"`
}

// IssueToken は受験トークンを発行する。
// POST /exams/{examID}/tokens
func (h *TokenHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
	if err != nil || examID <= 0 {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeInvalidRequest, "exam id must be a positive integer")
		return
	}

	var req issueTokenRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := dec.Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeInvalidRequest, "request body must be a JSON object with student_id and valid_minutes")
		return
	}
	if req.StudentID == nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeInvalidRequest, "student_id is required")
		return
	}
	if req.ValidMinutes == nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.CodeInvalidRequest, "valid_minutes is required")
		return
	}

	result, err := h.service.Issue(r.Context(), examtoken.IssueInput{
		ExamID:       examID,
		StudentID:    *req.StudentID,
		ValidMinutes: *req.ValidMinutes,
	})
	if err != nil {
		h.handleServiceError(w, r, err, issueStatus)
		return
	}

	h.logger.Info("access token issued",
		slog.Int64("exam_id", examID),
		slog.Int64("student_id", *req.StudentID),
		slog.Time("valid_until", result.AccessToken.ValidUntil),
	)

	writeJSON(w, http.StatusCreated, issueTokenResponse{
		Token:   result.Token,
		Message: "Token generated successfully",
	})
}

// AccessExam はトークンを使用して試験への入室を許可する。
// GET /exams/access/{token}
func (h *TokenHandler) AccessExam(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		middleware.WriteAPIError(w, http.StatusNotFound, model.NewTokenNotFoundError())
		return
	}

	redemption, err := h.service.Redeem(r.Context(), token)
	if err != nil {
		h.handleServiceError(w, r, err, redeemStatus)
		return
	}

	writeJSON(w, http.StatusOK, accessResponse{
		Exam: examResponse{
			Title:     h.sanitizer.Text(redemption.Exam.Title),
			StartTime: redemption.Exam.StartTime.UTC(),
			EndTime:   redemption.Exam.EndTime.UTC(),
		},
		Student: studentResponse{
			Name:  h.sanitizer.Text(redemption.Student.DisplayName()),
			Email: redemption.Student.Email,
		},
	})
}

// issueStatus は発行時の業務エラーのステータスを返す。識別・業務ルール違反はすべて400。
func issueStatus(apiErr *model.APIError) int {
	return http.StatusBadRequest
}

// redeemStatus は入室時の業務エラーのステータスを返す。
func redeemStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeTokenNotFound:
		return http.StatusNotFound
	case model.ErrCodeTokenExpired:
		return http.StatusGone
	default:
		return http.StatusBadRequest
	}
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// 業務エラーはinfo、運用エラーと想定外のエラーはerrorで記録する。
func (h *TokenHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error, statusOf func(*model.APIError) int) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		h.logger.Error("internal server error",
			slog.String("method", r.Method),
			slog.String("route", routePattern(r)),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	if apiErr.Category == model.CategorySystem {
		h.logger.Error("store unavailable",
			slog.String("method", r.Method),
			slog.String("route", routePattern(r)),
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
		if apiErr.IsRetryable() {
			middleware.WriteServiceUnavailable(w, storeRetryAfterSec)
			return
		}
		middleware.WriteInternalServerError(w)
		return
	}

	h.logger.Info("request rejected",
		slog.String("method", r.Method),
		slog.String("route", routePattern(r)),
		slog.String("code", apiErr.Code),
	)
	middleware.WriteAPIError(w, statusOf(apiErr), apiErr)
}

// routePattern はトークンを含まないroute patternを返す。
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
