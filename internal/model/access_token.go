package model

import "time"

// AccessToken は試験への入室に使う一回限りのトークンを表す。
// (ExamID, StudentID) の組ごとに最大1件。IsUsedはfalseからtrueへ一度だけ遷移する。
type AccessToken struct {
	ID         string
	ExamID     int64
	StudentID  int64
	Token      string
	IsUsed     bool
	ValidFrom  time.Time
	ValidUntil time.Time
	CreatedAt  time.Time
}

// InWindow は指定時刻が利用可能期間 [ValidFrom, ValidUntil) に含まれるかを返す。
func (t *AccessToken) InWindow(now time.Time) bool {
	return !now.Before(t.ValidFrom) && now.Before(t.ValidUntil)
}
