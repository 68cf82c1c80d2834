package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// Categoryでエラーの種類（識別・業務ルール・システム）を区別する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: identity, business, validation, system
	Action   string // 呼び出し側向けの対処方法
	Err      error  // 原因となったエラー（system カテゴリのみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRetryable は一時的な障害によるエラーで、再試行しうるかを返す。
// 識別エラーと業務ルールエラーは常にfalse。
func (e *APIError) IsRetryable() bool {
	return e.Category == CategorySystem && e.Code == ErrCodeStoreUnavailable
}

// エラーカテゴリ
const (
	CategoryIdentity   = "identity"
	CategoryBusiness   = "business"
	CategoryValidation = "validation"
	CategorySystem     = "system"
)

// 定義済みエラーコード
const (
	ErrCodeInvalidStudent      = "INVALID_STUDENT"
	ErrCodeInvalidExam         = "INVALID_EXAM"
	ErrCodeExamEnded           = "EXAM_ENDED"
	ErrCodeWindowExceedsExam   = "WINDOW_EXCEEDS_EXAM"
	ErrCodeDuplicateToken      = "DUPLICATE_TOKEN"
	ErrCodeTokenNotFound       = "TOKEN_NOT_FOUND"
	ErrCodeTokenAlreadyUsed    = "TOKEN_ALREADY_USED"
	ErrCodeTokenExpired        = "TOKEN_EXPIRED"
	ErrCodeInvalidValidMinutes = "INVALID_VALID_MINUTES"
	ErrCodeStoreUnavailable    = "STORE_UNAVAILABLE"
)

// HasCode はerrのチェーンに指定コードのAPIErrorが含まれるかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// NewInvalidStudentError は受験者が存在しない場合のエラーを生成する。
func NewInvalidStudentError(studentID int64) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStudent,
		Message:  fmt.Sprintf("Invalid student: %d", studentID),
		Category: CategoryIdentity,
		Action:   "Check the student ID.",
	}
}

// NewInvalidExamError は試験が存在しない場合のエラーを生成する。
func NewInvalidExamError(examID int64) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidExam,
		Message:  fmt.Sprintf("Invalid exam: %d", examID),
		Category: CategoryIdentity,
		Action:   "Check the exam ID.",
	}
}

// NewExamEndedError は試験が既に終了している場合のエラーを生成する。
func NewExamEndedError() *APIError {
	return &APIError{
		Code:     ErrCodeExamEnded,
		Message:  "Exam has already ended",
		Category: CategoryBusiness,
		Action:   "Tokens can only be issued for exams that are still running or scheduled.",
	}
}

// NewWindowExceedsExamError は利用可能期間が試験終了時刻を超える場合のエラーを生成する。
func NewWindowExceedsExamError() *APIError {
	return &APIError{
		Code:     ErrCodeWindowExceedsExam,
		Message:  "Token valid minutes must not exceed exam end time",
		Category: CategoryBusiness,
		Action:   "Shorten valid_minutes so that the token expires before the exam ends.",
	}
}

// NewDuplicateTokenError は同一の試験と受験者に対して既にトークンが存在する場合のエラーを生成する。
func NewDuplicateTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateToken,
		Message:  "Token already exists for this student and exam",
		Category: CategoryBusiness,
		Action:   "Re-issuing a token is not supported.",
	}
}

// NewTokenNotFoundError はトークンが存在しない場合のエラーを生成する。
func NewTokenNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenNotFound,
		Message:  "Invalid token",
		Category: CategoryIdentity,
		Action:   "Check the exam link.",
	}
}

// NewTokenAlreadyUsedError はトークンが使用済みの場合のエラーを生成する。
func NewTokenAlreadyUsedError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenAlreadyUsed,
		Message:  "Token has already been used",
		Category: CategoryBusiness,
		Action:   "Each exam link can be opened only once.",
	}
}

// NewTokenExpiredError はトークンの利用可能期間外の場合のエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "Token has expired",
		Category: CategoryBusiness,
		Action:   "Ask the exam administrator for assistance.",
	}
}

// NewInvalidValidMinutesError は利用可能分数が不正な場合のエラーを生成する。
func NewInvalidValidMinutesError(minutes int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidValidMinutes,
		Message:  fmt.Sprintf("valid_minutes must be at least 1: %d", minutes),
		Category: CategoryValidation,
		Action:   "Specify valid_minutes as a positive integer.",
	}
}

// NewStoreUnavailableError はストアのタイムアウトや接続障害によるエラーを生成する。
// 業務ルール違反とは区別され、呼び出し側は再試行してよい。
func NewStoreUnavailableError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "Token store is temporarily unavailable",
		Category: CategorySystem,
		Action:   "Please retry after a short while.",
		Err:      cause,
	}
}
