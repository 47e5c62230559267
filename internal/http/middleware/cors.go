package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	corsAllowMethods  = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders  = "Authorization, Content-Type, Last-Event-ID, " + RequestIDHeader
	corsExposeHeaders = "Content-Disposition, Location, Retry-After, " + RequestIDHeader
	defaultCORSMaxAge = 10 * time.Minute
)

type CORSConfig struct {
	// AllowedOrigins holds exact origins, "*" or a scheme wildcard such as
	// "chrome-extension://*" for browser extensions whose id is not known up front.
	AllowedOrigins []string
	MaxAge         time.Duration
}

type originMatcher struct {
	any      bool
	exact    map[string]struct{}
	prefixes []string
}

func newOriginMatcher(origins []string) originMatcher {
	matcher := originMatcher{exact: make(map[string]struct{})}
	for _, raw := range origins {
		origin := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case origin == "":
		case origin == "*":
			matcher.any = true
		case strings.HasSuffix(origin, "://*"):
			matcher.prefixes = append(matcher.prefixes, strings.TrimSuffix(origin, "*"))
		default:
			matcher.exact[strings.TrimSuffix(origin, "/")] = struct{}{}
		}
	}
	return matcher
}

func (m originMatcher) allows(origin string) bool {
	if m.any {
		return true
	}
	origin = strings.ToLower(origin)
	if _, ok := m.exact[origin]; ok {
		return true
	}
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(origin, prefix) && len(origin) > len(prefix) {
			return true
		}
	}
	return false
}

// CORS answers preflights for allowed origins and exposes the headers the
// extension reads from downloads and error responses. Other origins pass
// through without CORS headers, so the browser blocks them.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	matcher := newOriginMatcher(cfg.AllowedOrigins)
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultCORSMaxAge
	}
	maxAgeValue := strconv.Itoa(int(maxAge.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || !matcher.allows(origin) {
				next.ServeHTTP(w, r)
				return
			}

			header := w.Header()
			header.Add("Vary", "Origin")
			header.Set("Access-Control-Allow-Origin", origin)
			if matcher.any {
				header.Set("Access-Control-Allow-Origin", "*")
			}

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if !preflight {
				header.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				next.ServeHTTP(w, r)
				return
			}
			header.Set("Access-Control-Allow-Methods", corsAllowMethods)
			header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			header.Set("Access-Control-Max-Age", maxAgeValue)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
