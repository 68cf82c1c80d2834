package model

import "strings"

// Student はトークンの発行対象となる受験者を表す。
type Student struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Email     string
}

// DisplayName は表示用の氏名を返す。
// 氏名が未設定の場合はユーザー名を返す。
func (s *Student) DisplayName() string {
	name := strings.TrimSpace(s.FirstName + " " + s.LastName)
	if name == "" {
		return s.Username
	}
	return name
}
