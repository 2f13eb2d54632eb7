package policy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)

	bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]+=*`)
	jwtPattern    = regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]*`)
	// Google access tokens and refresh tokens.
	googleTokenPattern = regexp.MustCompile(`\b(?:ya29\.|1//)[A-Za-z0-9_\-]{10,}`)
)

type rule struct {
	pattern *regexp.Regexp
	marker  string
}

// Card runs before phone so card numbers aren't classified as phone numbers.
var piiRules = []rule{
	{emailPattern, "[REDACTED_EMAIL]"},
	{cardPattern, "[REDACTED_CARD]"},
	{phonePattern, "[REDACTED_PHONE]"},
}

var secretRules = []rule{
	{bearerPattern, "Bearer [REDACTED_TOKEN]"},
	{jwtPattern, "[REDACTED_TOKEN]"},
	{googleTokenPattern, "[REDACTED_TOKEN]"},
}

// RedactPII masks common high-risk PII patterns in user text before it is
// logged.
func RedactPII(input string) (redacted string, changed bool) {
	return apply(input, piiRules)
}

// RedactSecrets masks credentials that upstream error bodies sometimes echo.
func RedactSecrets(input string) (redacted string, changed bool) {
	return apply(input, secretRules)
}

func apply(input string, rules []rule) (string, bool) {
	out, changed := input, false
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
