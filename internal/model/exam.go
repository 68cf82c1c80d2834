// Package model はドメインモデルを定義する。
package model

import "time"

// Exam は受験トークンで入室を制御する試験を表す。
// 試験の作成・編集は外部の管理機能が担い、本サービスは参照のみ行う。
type Exam struct {
	ID        int64
	Title     string
	StartTime time.Time
	EndTime   time.Time
}

// HasEnded は指定時刻において試験が終了しているかを返す。
// 終了時刻ちょうどは終了済みとみなす。
func (e *Exam) HasEnded(now time.Time) bool {
	return !now.Before(e.EndTime)
}
