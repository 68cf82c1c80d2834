// Package security は通知先URLの検証と表示文字列の無害化を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// allowedSchemes はWebhook通知先として許可するスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedPrefixes は通知先として拒否するアドレス範囲。
// 接続時の検証はsafeurlのDialerが行い、ここでは起動時の静的検証に使う。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // クラウドメタデータ 169.254.169.254 を含む
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// SSRFGuard はWebhook通知の送信先を内部ネットワークから隔離する。
type SSRFGuard struct {
	ports []int
}

// NewSSRFGuard はSSRFGuardを生成する。送信先ポートは80と443のみ許可する。
func NewSSRFGuard() *SSRFGuard {
	return &SSRFGuard{ports: []int{80, 443}}
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを返す。
// DNS解決後のIPアドレスをDialerで検証するため、DNS再バインディングにも対応する。
func (g *SSRFGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.ports...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL は通知先URLを起動時に静的検証する。DNS解決は行わない。
func (g *SSRFGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %q (allowed: %v)", parsed.Scheme, allowedSchemes)
	}
	if parsed.User != nil {
		return fmt.Errorf("credentials in webhook URL are not allowed")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	if port := parsed.Port(); port != "" && !g.portAllowed(port) {
		return fmt.Errorf("disallowed port: %s", port)
	}

	if ip := net.ParseIP(host); ip != nil {
		addr, _ := netip.AddrFromSlice(ip)
		addr = addr.Unmap()
		for _, p := range blockedPrefixes {
			if p.Contains(addr) {
				return fmt.Errorf("blocked IP address: %s", addr)
			}
		}
	}

	return nil
}

func (g *SSRFGuard) portAllowed(port string) bool {
	for _, p := range g.ports {
		if fmt.Sprint(p) == port {
			return true
		}
	}
	return false
}
