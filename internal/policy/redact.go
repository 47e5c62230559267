package policy

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	googleKeyPattern = regexp.MustCompile(`AIza[0-9A-Za-z_\-]{30,}`)
	bearerPattern    = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._\-~+/]+=*`)
	queryKeyPattern  = regexp.MustCompile(`(?i)([?&](?:key|api_key|apikey|token|access_token|signature|sig)=)[^&\s"']+`)
	emailPattern     = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
)

var sensitiveParams = []string{"key", "api_key", "apikey", "token", "access_token", "signature", "sig", "oh", "oe"}

// RedactSecrets masks credentials and addresses that may leak through
// backend error messages or signed media urls.
func RedactSecrets(value string) string {
	if value == "" {
		return value
	}
	masked := googleKeyPattern.ReplaceAllString(value, "[key_redacted]")
	masked = bearerPattern.ReplaceAllString(masked, "Bearer [redacted]")
	masked = queryKeyPattern.ReplaceAllString(masked, "${1}[redacted]")
	masked = emailPattern.ReplaceAllString(masked, "[email_redacted]")
	return masked
}

// RedactURL keeps scheme, host and path of a source url and masks signed query values.
func RedactURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return RedactSecrets(raw)
	}
	parsed.User = nil
	if parsed.RawQuery != "" {
		query := parsed.Query()
		for _, name := range sensitiveParams {
			if query.Has(name) {
				query.Set(name, "redacted")
			}
		}
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}
