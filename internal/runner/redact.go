package runner

import "regexp"

// bearerPattern and apiKeyPattern capture everything before the secret so
// the replacement can preserve it while masking the secret itself.
var (
	bearerPattern = regexp.MustCompile(`(?i)(bearer\s+)[a-z0-9._-]{10,}`)
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key["':= ]+)[a-z0-9._-]{10,}`)
	basicAuthURL  = regexp.MustCompile(`://[^:/\s]+:[^@/\s]+@`)
)

// Redact masks secrets recognized in a line of scanner output: bearer
// tokens, API keys, and basic-auth credentials embedded in URLs
// (spec §4.4).
func Redact(line string) string {
	out := bearerPattern.ReplaceAllString(line, "${1}[REDACTED]")
	out = apiKeyPattern.ReplaceAllString(out, "${1}[REDACTED]")
	out = basicAuthURL.ReplaceAllString(out, "://[REDACTED]@")
	return out
}
