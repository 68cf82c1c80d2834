package examtoken

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes はトークンのエントロピー（バイト数）。
const tokenBytes = 16

// TokenGenerator は推測不能なトークン文字列を生成する関数。
type TokenGenerator func() (string, error)

// GenerateToken は16バイトの暗号学的乱数をURLセーフなbase64（パディングなし、22文字）で返す。
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
