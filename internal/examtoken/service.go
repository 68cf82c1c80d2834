// Package examtoken は試験入室トークンの発行と使用（一回限りの消費）を提供する。
package examtoken

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/examgate/internal/clock"
	"github.com/hitoshi/examgate/internal/model"
	"github.com/hitoshi/examgate/internal/repository"
)

// maxGenerateAttempts はトークン文字列が衝突した場合の生成試行回数の上限。
const maxGenerateAttempts = 3

// Notifier は発行したトークンを受験者へ非同期に届ける。
// Enqueueはブロックせず、配送の失敗を呼び出し側へ返さない。
type Notifier interface {
	Enqueue(token, address string)
}

// Recorder は発行・使用の結果を記録する（メトリクス用）。
// resultは "success" またはエラーコードの小文字表記。
type Recorder interface {
	RecordIssue(result string)
	RecordRedeem(result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordIssue(string)  {}
func (nopRecorder) RecordRedeem(string) {}

// IssueInput はトークン発行の入力。
type IssueInput struct {
	ExamID       int64
	StudentID    int64
	ValidMinutes int
}

// IssueResult はトークン発行の結果。
type IssueResult struct {
	Token          string
	ContactAddress string
	AccessToken    *model.AccessToken
}

// Redemption はトークン使用の結果。表示・監査用に試験と受験者を解決済みで持つ。
// 試験と受験者は使用済みへの更新と同じトランザクションで読むため、解決に失敗した使用は確定しない。
type Redemption struct {
	AccessToken *model.AccessToken
	Exam        *model.Exam
	Student     *model.Student
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithTokenGenerator はトークン生成関数を差し替える。
func WithTokenGenerator(gen TokenGenerator) Option {
	return func(s *Service) {
		s.generate = gen
	}
}

// WithRecorder は結果の記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// Service はトークンのライフサイクル（発行・使用）を扱うサービス層。
// 状態はすべてリポジトリに置き、Service自身は可変状態を持たない。
type Service struct {
	exams    repository.ExamRepository
	students repository.StudentRepository
	tokens   repository.AccessTokenRepository
	notifier Notifier
	clock    clock.Clock
	generate TokenGenerator
	recorder Recorder
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	exams repository.ExamRepository,
	students repository.StudentRepository,
	tokens repository.AccessTokenRepository,
	notifier Notifier,
	clk clock.Clock,
	opts ...Option,
) *Service {
	s := &Service{
		exams:    exams,
		students: students,
		tokens:   tokens,
		notifier: notifier,
		clock:    clk,
		generate: GenerateToken,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue は受験者に試験の入室トークンを発行する。
// 前提条件は 受験者の存在 → 試験の存在 → 試験未終了 → 有効期間が試験終了を超えない → 重複なし
// の順に検査し、最初に失敗したもののエラーを返す。
// 発行後の通知は非同期で、その成否は結果に影響しない。
func (s *Service) Issue(ctx context.Context, in IssueInput) (*IssueResult, error) {
	res, err := s.issue(ctx, in)
	s.recorder.RecordIssue(resultLabel(err))
	return res, err
}

func (s *Service) issue(ctx context.Context, in IssueInput) (*IssueResult, error) {
	if in.ValidMinutes <= 0 {
		return nil, model.NewInvalidValidMinutesError(in.ValidMinutes)
	}

	student, err := s.students.FindByID(ctx, in.StudentID)
	if err != nil {
		return nil, fmt.Errorf("受験者の取得に失敗しました: %w", err)
	}
	if student == nil {
		return nil, model.NewInvalidStudentError(in.StudentID)
	}

	exam, err := s.exams.FindByID(ctx, in.ExamID)
	if err != nil {
		return nil, fmt.Errorf("試験の取得に失敗しました: %w", err)
	}
	if exam == nil {
		return nil, model.NewInvalidExamError(in.ExamID)
	}

	now := s.clock.Now()
	if exam.HasEnded(now) {
		return nil, model.NewExamEndedError()
	}
	// now + ValidMinutes <= EndTime。分単位で比較してDurationのオーバーフローを避ける
	remaining := exam.EndTime.Sub(now)
	if int64(in.ValidMinutes) > int64(remaining/time.Minute) {
		return nil, model.NewWindowExceedsExamError()
	}

	existing, err := s.tokens.FindByExamAndStudent(ctx, exam.ID, student.ID)
	if err != nil {
		return nil, fmt.Errorf("既存トークンの確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateTokenError()
	}

	record := &model.AccessToken{
		ID:         uuid.NewString(),
		ExamID:     exam.ID,
		StudentID:  student.ID,
		IsUsed:     false,
		ValidFrom:  now,
		ValidUntil: now.Add(time.Duration(in.ValidMinutes) * time.Minute),
		CreatedAt:  now,
	}
	if err := s.create(ctx, record); err != nil {
		return nil, err
	}

	s.notifier.Enqueue(record.Token, student.Email)

	return &IssueResult{
		Token:          record.Token,
		ContactAddress: student.Email,
		AccessToken:    record,
	}, nil
}

// create はトークン文字列を生成して保存する。文字列の衝突時のみ再生成して再試行する。
// 事前確認をすり抜けた同一(試験, 受験者)の同時発行は一意制約によりDUPLICATE_TOKENになる。
func (s *Service) create(ctx context.Context, record *model.AccessToken) error {
	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		token, err := s.generate()
		if err != nil {
			return err
		}
		record.Token = token

		err = s.tokens.Create(ctx, record)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrTokenCollision) {
			return fmt.Errorf("トークンの保存に失敗しました: %w", err)
		}
		slog.Warn("access token collision, regenerating",
			slog.Int64("exam_id", record.ExamID),
			slog.Int64("student_id", record.StudentID),
			slog.Int("attempt", attempt),
		)
	}
	return fmt.Errorf("トークンの生成が%d回衝突しました: %w", maxGenerateAttempts, repository.ErrTokenCollision)
}

// Redeem はトークンを一度だけ使用済みにする。
// 同一トークンへの同時呼び出しのうち成功するのは1件のみで、残りはTOKEN_ALREADY_USEDになる。
// 判定順は 存在しない → 使用済み → 有効期間外。期間外の場合は使用済みにしない。
func (s *Service) Redeem(ctx context.Context, token string) (*Redemption, error) {
	res, err := s.redeem(ctx, token)
	s.recorder.RecordRedeem(resultLabel(err))
	return res, err
}

func (s *Service) redeem(ctx context.Context, token string) (*Redemption, error) {
	if token == "" {
		return nil, model.NewTokenNotFoundError()
	}

	consumed, err := s.tokens.Consume(ctx, token, func(t *model.AccessToken) error {
		if t.IsUsed {
			return model.NewTokenAlreadyUsedError()
		}
		// ロック取得後の時刻で判定する
		if !t.InWindow(s.clock.Now()) {
			return model.NewTokenExpiredError()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("トークンの使用に失敗しました: %w", err)
	}
	if consumed == nil {
		return nil, model.NewTokenNotFoundError()
	}

	return &Redemption{
		AccessToken: consumed.AccessToken,
		Exam:        consumed.Exam,
		Student:     consumed.Student,
	}, nil
}

// resultLabel はメトリクス用の結果ラベルを返す。
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return strings.ToLower(apiErr.Code)
	}
	return "error"
}
