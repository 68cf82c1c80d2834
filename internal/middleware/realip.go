package middleware

import (
	"net/http"
	"net/netip"
	"strings"
)

// NewTrustedRealIPMiddleware は直前のピアが信頼済みプロキシの場合に限り、
// 転送ヘッダーからクライアントIPを復元してRemoteAddrを書き換えるミドルウェアを返す。
//
// X-Forwarded-Forは右から順にたどり、信頼済みプロキシ以外の最初のアドレスを採用する。
// 見つからない場合はX-Real-IPを使う。信頼済みでないピアの転送ヘッダーは無視する。
// trustedが空の場合は常にRemoteAddrのまま。
func NewTrustedRealIPMiddleware(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip, ok := forwardedClientIP(r, trusted); ok {
				r.RemoteAddr = ip.String()
			}
			next.ServeHTTP(w, r)
		})
	}
}

func forwardedClientIP(r *http.Request, trusted []netip.Prefix) (netip.Addr, bool) {
	peer, err := netip.ParseAddr(clientIP(r))
	if err != nil || !isTrusted(peer, trusted) {
		return netip.Addr{}, false
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			// 不正な値より左は信用できない
			break
		}
		if !isTrusted(addr, trusted) {
			return addr.Unmap(), true
		}
	}

	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
