package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/examgate/internal/model"
	"github.com/lib/pq"
)

// PostgreSQLのSQLSTATE
const (
	pqUniqueViolation      = "23505"
	pqLockNotAvailable     = "55P03"
	pqQueryCanceled        = "57014"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqAdminShutdown        = "57P01"
	pqCannotConnectNow     = "57P03"
)

// 一意制約名（マイグレーションで定義）
const (
	constraintExamStudentUnique = "exam_access_tokens_exam_student_key"
	constraintTokenUnique       = "exam_access_tokens_token_key"
)

// isUniqueViolation はerrが一意制約違反であれば制約名とtrueを返す。
func isUniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

// isTransient はタイムアウト・ロック待ち・接続断など一時的な障害かを判定する。
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	code := string(pqErr.Code)
	switch code {
	case pqLockNotAvailable, pqQueryCanceled, pqSerializationFailure,
		pqDeadlockDetected, pqAdminShutdown, pqCannotConnectNow:
		return true
	}
	// 08xxx: connection exception
	return strings.HasPrefix(code, "08")
}

// wrapStoreError はストア操作のエラーを分類する。
// 一時的な障害はSTORE_UNAVAILABLEのAPIErrorに変換し、それ以外は文脈付きでラップする。
func wrapStoreError(op string, err error) error {
	if isTransient(err) {
		return model.NewStoreUnavailableError(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
