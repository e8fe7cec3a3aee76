package security

import (
	"net/http"
	"strconv"
	"time"
)

// HeadersConfig lists the headers set on every response. HSTS is only sent
// on TLS connections.
type HeadersConfig struct {
	Static                http.Header
	HSTSMaxAge            time.Duration
	HSTSIncludeSubdomains bool
}

// DefaultHeadersConfig suits a JSON API that serves no documents.
func DefaultHeadersConfig() HeadersConfig {
	static := http.Header{}
	static.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	static.Set("X-Content-Type-Options", "nosniff")
	static.Set("X-Frame-Options", "DENY")
	static.Set("Referrer-Policy", "no-referrer")
	static.Set("Cross-Origin-Resource-Policy", "same-origin")
	static.Set("Cache-Control", "no-store")
	return HeadersConfig{
		Static:                static,
		HSTSMaxAge:            365 * 24 * time.Hour,
		HSTSIncludeSubdomains: true,
	}
}

type HeadersMiddleware struct {
	static http.Header
	hsts   string
}

func NewHeadersMiddleware(config HeadersConfig) *HeadersMiddleware {
	m := &HeadersMiddleware{static: config.Static.Clone()}
	if config.HSTSMaxAge > 0 {
		m.hsts = "max-age=" + strconv.Itoa(int(config.HSTSMaxAge/time.Second))
		if config.HSTSIncludeSubdomains {
			m.hsts += "; includeSubDomains"
		}
	}
	return m
}

func (h *HeadersMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		for k, v := range h.static {
			headers[k] = v
		}
		if r.TLS != nil && h.hsts != "" {
			headers.Set("Strict-Transport-Security", h.hsts)
		}
		next.ServeHTTP(w, r)
	})
}
