package media

import (
	"net/url"
	"regexp"
	"strings"
)

var platformDomains = []struct {
	domain   string
	platform string
}{
	{"facebook.com", "facebook"},
	{"fb.watch", "facebook"},
	{"fb.com", "facebook"},
	{"youtube.com", "youtube"},
	{"youtu.be", "youtube"},
	{"instagram.com", "instagram"},
	{"tiktok.com", "tiktok"},
	{"twitter.com", "twitter"},
	{"x.com", "twitter"},
}

// DetectPlatform names the hosting platform of a source URL, or "other".
func DetectPlatform(sourceURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil {
		return "other"
	}
	host := strings.ToLower(parsed.Hostname())
	for _, candidate := range platformDomains {
		if host == candidate.domain || strings.HasSuffix(host, "."+candidate.domain) {
			return candidate.platform
		}
	}
	return "other"
}

// ValidSourceURL reports whether raw looks like an absolute http(s) URL with a host.
func ValidSourceURL(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.ContainsAny(trimmed, " \t\n") {
		return false
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	host := parsed.Hostname()
	if host == "" {
		return false
	}
	if host == "localhost" || strings.Contains(host, ".") || strings.Contains(host, ":") {
		return true
	}
	return false
}

var unsafeFileChars = regexp.MustCompile(`[^\p{L}\p{N}\s\-_]`)

// SafeFileName turns a media title into a file name stem.
func SafeFileName(title string) string {
	cleaned := strings.TrimSpace(unsafeFileChars.ReplaceAllString(title, ""))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	runes := []rune(cleaned)
	if len(runes) > 60 {
		cleaned = strings.TrimSpace(string(runes[:60]))
	}
	if cleaned == "" {
		return "download"
	}
	return cleaned
}
