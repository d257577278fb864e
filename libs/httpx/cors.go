package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy lists the browser origins the service answers. The same policy
// guards plain requests and websocket upgrades.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// Open reports whether the policy names no origin, in which case every origin
// is accepted and no CORS headers are written.
func (p CORSPolicy) Open() bool {
	return len(trimAll(p.AllowedOrigins)) == 0
}

// AllowOrigin returns the Access-Control-Allow-Origin value for origin. A
// wildcard echoes the origin back when credentials are allowed, since
// browsers reject "*" together with credentials.
func (p CORSPolicy) AllowOrigin(origin string) (string, bool) {
	if origin == "" {
		return "", false
	}
	for _, candidate := range trimAll(p.AllowedOrigins) {
		switch {
		case candidate == "*" && p.AllowCredentials:
			return origin, true
		case candidate == "*":
			return "*", true
		case strings.EqualFold(candidate, origin):
			return origin, true
		}
	}
	return "", false
}

// CheckOrigin fits websocket.Upgrader.CheckOrigin. Requests without an
// Origin header come from non-browser clients and pass.
func (p CORSPolicy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || p.Open() {
		return true
	}
	_, ok := p.AllowOrigin(origin)
	return ok
}

// WithCORS writes CORS headers for allowed origins and answers preflight
// requests. An open policy leaves requests untouched.
func WithCORS(p CORSPolicy) Middleware {
	if p.Open() {
		return func(next http.Handler) http.Handler { return next }
	}

	fixed := map[string]string{}
	if methods := trimAll(p.AllowedMethods); len(methods) > 0 {
		fixed["Access-Control-Allow-Methods"] = strings.Join(methods, ", ")
	}
	if headers := trimAll(p.AllowedHeaders); len(headers) > 0 {
		fixed["Access-Control-Allow-Headers"] = strings.Join(headers, ", ")
	}
	if secs := int(p.MaxAge / time.Second); secs > 0 {
		fixed["Access-Control-Max-Age"] = strconv.Itoa(secs)
	}
	if p.AllowCredentials {
		fixed["Access-Control-Allow-Credentials"] = "true"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allow, ok := p.AllowOrigin(r.Header.Get("Origin"))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			for k, v := range fixed {
				h.Set(k, v)
			}
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
