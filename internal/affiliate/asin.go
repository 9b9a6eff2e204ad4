package affiliate

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	asinPathPattern = regexp.MustCompile(`/(?:dp|gp/product|gp/aw/d)/([A-Z0-9]{10})(?:[/?]|$)`)
	asinPattern     = regexp.MustCompile(`^[A-Z0-9]{10}$`)
)

// ExtractASIN returns the Amazon product identifier embedded in an affiliate
// URL, or "" when there is none. Path forms (/dp/, /gp/product/, /gp/aw/d/)
// win over an asin query parameter.
func ExtractASIN(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	if m := asinPathPattern.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}

	for key, values := range u.Query() {
		if !strings.EqualFold(key, "asin") || len(values) == 0 {
			continue
		}
		if v := strings.ToUpper(values[0]); asinPattern.MatchString(v) {
			return v
		}
	}
	return ""
}
