package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hitoshi/examgate/internal/model"
)

// 境界層で付与するエラーコード
const (
	CodeInternalError     = "INTERNAL_ERROR"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Details string `json:"details"`
	Code    string `json:"code"`
}

// WriteError は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteError(w http.ResponseWriter, statusCode int, code, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Details: details,
		Code:    code,
	})
}

// WriteAPIError はAPIErrorのコードとメッセージをそのまま返す。
func WriteAPIError(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	WriteError(w, statusCode, apiErr.Code, apiErr.Message)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、呼び出し側には一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred.")
}

// WriteServiceUnavailable は一時的な障害を503とRetry-Afterで返す。
func WriteServiceUnavailable(w http.ResponseWriter, retryAfterSec int) {
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteError(w, http.StatusServiceUnavailable, model.ErrCodeStoreUnavailable,
		"The service is temporarily unavailable. Please retry shortly.")
}
