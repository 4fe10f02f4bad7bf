// Package classify flags automated clients from their declared user agent.
//
// The heuristic is static on purpose: misses in either direction are settled by
// the operator's approve/block decision, not here.
package classify

import "strings"

const (
	minSignatureLen = 10

	// ShortScore is the confidence assigned to empty or very short signatures.
	ShortScore = 0.9
	// PatternScore is the confidence assigned to a deny-list match.
	PatternScore = 0.85
)

// patterns is checked in order; the first match wins.
var patterns = []string{
	"bot", "crawler", "spider", "scraper", "python-requests", "python-urllib",
	"curl/", "wget/", "httpie/", "go-http", "java/", "ruby", "perl/",
	"scrapy", "mechanize", "selenium", "phantomjs", "headless",
	"postman", "insomnia", "httpclient", "okhttp", "libwww", "node-fetch",
}

// Verdict is the classifier output.
type Verdict struct {
	IsBot bool
	Score float64
}

// Detect classifies a client signature.
func Detect(userAgent string) Verdict {
	if len(userAgent) < minSignatureLen {
		return Verdict{IsBot: true, Score: ShortScore}
	}
	if Match(userAgent) != "" {
		return Verdict{IsBot: true, Score: PatternScore}
	}
	return Verdict{}
}

// Match returns the first deny-list pattern contained in userAgent, or "".
func Match(userAgent string) string {
	ua := strings.ToLower(userAgent)
	for _, p := range patterns {
		if strings.Contains(ua, p) {
			return p
		}
	}
	return ""
}

// Patterns returns a copy of the deny-list.
func Patterns() []string {
	out := make([]string, len(patterns))
	copy(out, patterns)
	return out
}
