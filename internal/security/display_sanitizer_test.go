package security

import "testing"

func TestDisplaySanitizer_Text(t *testing.T) {
	s := NewDisplaySanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "Linear Algebra Midterm", "Linear Algebra Midterm"},
		{"日本語", "期末試験 物理", "期末試験 物理"},
		{"タグを除去", "<b>Physics</b> Final", "Physics Final"},
		{"scriptは中身ごと除去", "Exam<script>alert('xss')</script>", "Exam"},
		{"イベント属性付きimg", `<img src=x onerror=alert(1)>Alice`, "Alice"},
		{"前後の空白", "  Alice Smith  ", "Alice Smith"},
		{"特殊文字はエスケープ", "Q&A <session>", "Q&amp;A"},
		{"空文字列", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Text(tt.input); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
