package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/examgate/internal/model"
)

// PostgresExamRepo はPostgreSQLを使用した試験リポジトリ。
type PostgresExamRepo struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresExamRepo はPostgresExamRepoを生成する。
// timeoutは1回のクエリに許容する最大時間。
func NewPostgresExamRepo(db *sql.DB, timeout time.Duration) *PostgresExamRepo {
	return &PostgresExamRepo{db: db, timeout: timeout}
}

// FindByID は指定IDの試験を取得する。見つからない場合はnilを返す。
func (r *PostgresExamRepo) FindByID(ctx context.Context, id int64) (*model.Exam, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	exam := &model.Exam{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, start_time, end_time FROM exams WHERE id = $1`,
		id,
	).Scan(&exam.ID, &exam.Title, &exam.StartTime, &exam.EndTime)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError("failed to find exam", err)
	}

	return exam, nil
}

// compile-time interface check
var _ ExamRepository = (*PostgresExamRepo)(nil)
