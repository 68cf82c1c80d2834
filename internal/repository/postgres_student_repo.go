package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/examgate/internal/model"
)

// PostgresStudentRepo はPostgreSQLを使用した受験者リポジトリ。
type PostgresStudentRepo struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresStudentRepo はPostgresStudentRepoを生成する。
func NewPostgresStudentRepo(db *sql.DB, timeout time.Duration) *PostgresStudentRepo {
	return &PostgresStudentRepo{db: db, timeout: timeout}
}

// FindByID は指定IDの受験者を取得する。見つからない場合はnilを返す。
func (r *PostgresStudentRepo) FindByID(ctx context.Context, id int64) (*model.Student, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	student := &model.Student{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, first_name, last_name, email FROM students WHERE id = $1`,
		id,
	).Scan(&student.ID, &student.Username, &student.FirstName, &student.LastName, &student.Email)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError("failed to find student", err)
	}

	return student, nil
}

// compile-time interface check
var _ StudentRepository = (*PostgresStudentRepo)(nil)
