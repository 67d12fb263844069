package server

import (
	"net/http"
	"net/url"
	"strings"
)

// SecurityConfig adjusts the headers added to every response. Empty fields
// keep the built-in policy.
type SecurityConfig struct {
	// ContentSecurityPolicy replaces the generated policy entirely.
	ContentSecurityPolicy string
	FrameAncestors        string
	ReferrerPolicy        string
	PermissionsPolicy     string
	// MediaOrigins are extra hosts reels and post videos may stream from,
	// usually the public endpoint of the upload mirror.
	MediaOrigins []string
}

type header struct {
	name  string
	value string
}

// securityHeaders resolves cfg into the fixed header list. The browser
// client talks to /ws and plays uploads from blob: previews, /uploads and the
// mirror, so those sources are always allowed.
func securityHeaders(cfg SecurityConfig) []header {
	ancestors := strings.TrimSpace(cfg.FrameAncestors)
	if ancestors == "" {
		ancestors = "'none'"
	}
	policy := cfg.ContentSecurityPolicy
	if policy == "" {
		policy = contentSecurityPolicy(ancestors, cfg.MediaOrigins)
	}

	headers := []header{
		{"Content-Security-Policy", policy},
		{"X-Content-Type-Options", "nosniff"},
		{"Referrer-Policy", orDefault(cfg.ReferrerPolicy, "no-referrer")},
		{"Permissions-Policy", orDefault(cfg.PermissionsPolicy, "camera=(self), microphone=(), geolocation=()")},
	}
	switch ancestors {
	case "'none'":
		headers = append(headers, header{"X-Frame-Options", "DENY"})
	case "'self'":
		headers = append(headers, header{"X-Frame-Options", "SAMEORIGIN"})
	}
	return headers
}

func contentSecurityPolicy(frameAncestors string, mediaOrigins []string) string {
	media := []string{"'self'", "blob:"}
	for _, origin := range mediaOrigins {
		if origin = normalizeOrigin(origin); origin != "" {
			media = append(media, origin)
		}
	}
	mediaSources := strings.Join(media, " ")

	directives := []string{
		"default-src 'self'",
		"connect-src 'self' ws: wss:",
		// Posts may embed images by URL and avatars come from ui-avatars.com.
		"img-src " + mediaSources + " data: https:",
		"media-src " + mediaSources,
		"script-src 'self'",
		"style-src 'self'",
		"object-src 'none'",
		"base-uri 'self'",
		"frame-ancestors " + frameAncestors,
		"form-action 'self'",
	}
	return strings.Join(directives, "; ")
}

// normalizeOrigin reduces a URL to scheme://host. Unparseable values are
// dropped.
func normalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	headers := securityHeaders(cfg)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range headers {
			w.Header().Set(h.name, h.value)
		}
		next.ServeHTTP(w, r)
	})
}
