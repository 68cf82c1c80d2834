// Package cleanup は期限切れ受験トークンの自動削除ジョブを提供する。
// 利用期限（valid_until）から保持期間（デフォルト90日）を過ぎたトークンを
// 日次バッチで削除する。発行・使用の判定には関与しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/examgate/internal/clock"
)

// TokenPurger は期限切れトークンの削除を抽象化するインターフェース。
// repository.AccessTokenRepositoryが満たす。
type TokenPurger interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recorder は削除件数をメトリクスに記録する。
type Recorder interface {
	RecordTokensPurged(count int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordTokensPurged(int64) {}

// CleanupJob は保持期間を超過したトークンの自動削除ジョブ。
// 冪等な削除処理で、同じ時刻に複数回実行しても結果は変わらない。
// 削除後の使用はTOKEN_NOT_FOUNDになり、同じ試験・受験者への再発行も可能になる。
type CleanupJob struct {
	purger        TokenPurger
	clock         clock.Clock
	logger        *slog.Logger
	recorder      Recorder
	RetentionDays int // 利用期限からの保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// recorderがnilの場合は記録しない。
func NewCleanupJob(purger TokenPurger, clk clock.Clock, logger *slog.Logger, recorder Recorder) *CleanupJob {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &CleanupJob{
		purger:        purger,
		clock:         clk,
		logger:        logger,
		recorder:      recorder,
		RetentionDays: 90,
	}
}

// Cutoff は削除対象となるvalid_untilの境界時刻を返す。
func (j *CleanupJob) Cutoff() time.Time {
	return j.clock.Now().AddDate(0, 0, -j.RetentionDays)
}

// Run は保持期間を超過したトークンを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.Cutoff()

	deletedCount, err := j.purger.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("トークンクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("トークンクリーンアップの実行に失敗: %w", err)
	}

	j.recorder.RecordTokensPurged(deletedCount)
	j.logger.Info("トークンクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start はctxがキャンセルされるまでintervalごとにRunを実行する。
// 起動直後に1回実行する。失敗はログに残して次回に持ち越す。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("トークンクリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
	)

	j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("トークンクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
