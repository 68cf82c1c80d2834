package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/examgate/internal/model"
)

// accessTokenColumns はexam_access_tokensのSELECT列。scanAccessTokenと順序を合わせる。
const accessTokenColumns = `id, exam_id, student_id, token, is_used, valid_from, valid_until, created_at`

// PostgresAccessTokenRepo はPostgreSQLを使用した受験トークンリポジトリ。
type PostgresAccessTokenRepo struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresAccessTokenRepo はPostgresAccessTokenRepoを生成する。
// timeoutはクエリおよびトランザクション全体（ロック待ちを含む）の上限。
func NewPostgresAccessTokenRepo(db *sql.DB, timeout time.Duration) *PostgresAccessTokenRepo {
	return &PostgresAccessTokenRepo{db: db, timeout: timeout}
}

// Create はトークンを作成する。
func (r *PostgresAccessTokenRepo) Create(ctx context.Context, token *model.AccessToken) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO exam_access_tokens (id, exam_id, student_id, token, is_used, valid_from, valid_until, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		token.ID, token.ExamID, token.StudentID, token.Token, token.IsUsed,
		token.ValidFrom, token.ValidUntil, token.CreatedAt,
	)
	if err != nil {
		if constraint, ok := isUniqueViolation(err); ok {
			switch constraint {
			case constraintTokenUnique:
				return ErrTokenCollision
			default:
				return model.NewDuplicateTokenError()
			}
		}
		return wrapStoreError("failed to create access token", err)
	}
	return nil
}

// FindByExamAndStudent は試験IDと受験者IDでトークンを検索する。見つからない場合はnilを返す。
func (r *PostgresAccessTokenRepo) FindByExamAndStudent(ctx context.Context, examID, studentID int64) (*model.AccessToken, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	t, err := scanAccessToken(r.db.QueryRowContext(ctx,
		`SELECT `+accessTokenColumns+` FROM exam_access_tokens WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError("failed to find access token by exam and student", err)
	}
	return t, nil
}

// FindByToken はトークン文字列でトークンを検索する。見つからない場合はnilを返す。
func (r *PostgresAccessTokenRepo) FindByToken(ctx context.Context, token string) (*model.AccessToken, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	t, err := scanAccessToken(r.db.QueryRowContext(ctx,
		`SELECT `+accessTokenColumns+` FROM exam_access_tokens WHERE token = $1`,
		token,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError("failed to find access token", err)
	}
	return t, nil
}

// consumeQuery はトークン行のみをロックし、試験と受験者を同じ文で読む。
const consumeQuery = `SELECT t.id, t.exam_id, t.student_id, t.token, t.is_used, t.valid_from, t.valid_until, t.created_at,
	        e.title, e.start_time, e.end_time,
	        s.username, s.first_name, s.last_name, s.email
	   FROM exam_access_tokens t
	   JOIN exams e ON e.id = t.exam_id
	   JOIN students s ON s.id = t.student_id
	  WHERE t.token = $1
	    FOR UPDATE OF t`

// Consume はトークン行をSELECT ... FOR UPDATEでロックし、checkを通過した場合のみ使用済みにする。
// 試験と受験者はロックと同じ文で取得するため、解決に失敗した場合は更新前にロールバックされる。
// ロック待ちはlock_timeoutとコンテキストのタイムアウトの両方で打ち切る。
func (r *PostgresAccessTokenRepo) Consume(
	ctx context.Context,
	token string,
	check func(t *model.AccessToken) error,
) (*ConsumedToken, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapStoreError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.timeout.Milliseconds()),
	); err != nil {
		return nil, wrapStoreError("failed to set lock timeout", err)
	}

	t := &model.AccessToken{}
	exam := &model.Exam{}
	student := &model.Student{}
	err = tx.QueryRowContext(ctx, consumeQuery, token).Scan(
		&t.ID, &t.ExamID, &t.StudentID, &t.Token, &t.IsUsed,
		&t.ValidFrom, &t.ValidUntil, &t.CreatedAt,
		&exam.Title, &exam.StartTime, &exam.EndTime,
		&student.Username, &student.FirstName, &student.LastName, &student.Email,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError("failed to lock access token", err)
	}
	t.ValidFrom = t.ValidFrom.UTC()
	t.ValidUntil = t.ValidUntil.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	exam.ID = t.ExamID
	student.ID = t.StudentID

	if err := check(t); err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE exam_access_tokens SET is_used = true WHERE token = $1 AND is_used = false`,
		token,
	)
	if err != nil {
		return nil, wrapStoreError("failed to mark access token as used", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, wrapStoreError("failed to get rows affected", err)
	}
	// 行ロック下では起こらないが、条件付き更新でfalse→trueの一回性を保証する
	if rowsAffected != 1 {
		return nil, model.NewTokenAlreadyUsedError()
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapStoreError("failed to commit transaction", err)
	}

	t.IsUsed = true
	return &ConsumedToken{AccessToken: t, Exam: exam, Student: student}, nil
}

// DeleteExpiredBefore はvalid_untilがcutoffより前のトークンを削除する。
func (r *PostgresAccessTokenRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM exam_access_tokens WHERE valid_until < $1`,
		cutoff,
	)
	if err != nil {
		return 0, wrapStoreError("failed to delete expired access tokens", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, wrapStoreError("failed to get rows affected", err)
	}
	return deleted, nil
}

// scanAccessToken は1行をAccessTokenに読み込む。時刻はUTCに正規化する。
func scanAccessToken(row *sql.Row) (*model.AccessToken, error) {
	t := &model.AccessToken{}
	err := row.Scan(
		&t.ID, &t.ExamID, &t.StudentID, &t.Token, &t.IsUsed,
		&t.ValidFrom, &t.ValidUntil, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.ValidFrom = t.ValidFrom.UTC()
	t.ValidUntil = t.ValidUntil.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

// compile-time interface check
var _ AccessTokenRepository = (*PostgresAccessTokenRepo)(nil)
