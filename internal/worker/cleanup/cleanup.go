// Package cleanup は期限切れのセッションとメール確認コードを削除するジョブを提供する。
// 検証処理は期限切れのレコードを無視するため、削除が遅れても安全性には影響しない。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ExpiredDeleter は期限切れレコードを削除するリポジトリ。
// repository.SessionRepository と repository.VerificationCodeRepository が満たす。
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Recorder は削除件数を記録する。metrics.Collectorが実装する。
type Recorder interface {
	RecordCleanup(kind string, deleted int64)
}

// Target は削除対象の種類と削除処理の組。
type Target struct {
	Kind    string
	Deleter ExpiredDeleter
}

// CleanupJob は期限切れレコードの削除ジョブ。冪等で、何度実行してもよい。
type CleanupJob struct {
	targets  []Target
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(targets []Target, logger *slog.Logger, recorder Recorder) *CleanupJob {
	return &CleanupJob{
		targets:  targets,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// Run は全ての対象について期限切れレコードを削除する。
// 1つの対象が失敗しても残りの対象は処理し、エラーはまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := j.now()

	var errs []error
	for _, t := range j.targets {
		deleted, err := t.Deleter.DeleteExpired(ctx, now)
		if err != nil {
			j.logger.Error("期限切れレコードの削除に失敗しました",
				slog.String("kind", t.Kind),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("failed to delete expired %s: %w", t.Kind, err))
			continue
		}

		if j.recorder != nil {
			j.recorder.RecordCleanup(t.Kind, deleted)
		}
		j.logger.Info("期限切れレコードを削除しました",
			slog.String("kind", t.Kind),
			slog.Int64("deleted_count", deleted),
		)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return errors.Join(errs...)
}

// Start は起動直後と以降interval毎にRunを実行する。
// コンテキストがキャンセルされるまで戻らない。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました", slog.Duration("interval", interval))

	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました", slog.String("error", err.Error()))
	}
}
