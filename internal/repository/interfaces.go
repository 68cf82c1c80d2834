// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/examgate/internal/model"
)

// ErrTokenCollision は生成したトークン文字列が既存レコードと衝突した場合に返る。
// 呼び出し側はトークンを再生成して再試行する。
var ErrTokenCollision = errors.New("access token value collision")

// ConsumedToken は使用済みにしたトークンと、同じトランザクション内で解決した試験・受験者。
type ConsumedToken struct {
	AccessToken *model.AccessToken
	Exam        *model.Exam
	Student     *model.Student
}

// ExamRepository は試験データの参照インターフェース。
type ExamRepository interface {
	// FindByID は指定IDの試験を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Exam, error)
}

// StudentRepository は受験者データの参照インターフェース。
type StudentRepository interface {
	// FindByID は指定IDの受験者を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Student, error)
}

// AccessTokenRepository は受験トークンの永続化インターフェース。
type AccessTokenRepository interface {
	// Create はトークンを作成する。
	// (exam_id, student_id) の一意制約違反はDUPLICATE_TOKENのAPIErrorを、
	// token列の一意制約違反はErrTokenCollisionを返す。
	Create(ctx context.Context, token *model.AccessToken) error

	// FindByExamAndStudent は試験IDと受験者IDでトークンを検索する。見つからない場合はnilを返す。
	FindByExamAndStudent(ctx context.Context, examID, studentID int64) (*model.AccessToken, error)

	// FindByToken はトークン文字列でトークンを検索する。見つからない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.AccessToken, error)

	// Consume はトークン行を排他ロックし、試験・受験者を同じ読み取りで解決した状態でcheckを実行する。
	// checkがnilを返した場合のみis_usedをtrueに更新してコミットする。
	// 行が存在しない場合はnilを返す。checkのエラーや途中の障害はロールバックされ、is_usedは変わらない。
	// 同一トークンに対する並行呼び出しはこの区間で直列化される。
	Consume(ctx context.Context, token string, check func(t *model.AccessToken) error) (*ConsumedToken, error)

	// DeleteExpiredBefore はvalid_untilがcutoffより前のトークンを削除し、削除件数を返す。
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
