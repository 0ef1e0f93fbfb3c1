package analyzer

import (
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// UnknownUserAgent replaces empty or "-" user agents
	UnknownUserAgent = "Unknown"
	// UnknownCountry replaces missing or unrecognized country codes
	UnknownCountry = "XX"

	maxUserAgentLength = 500
)

var (
	slashesRegex = regexp.MustCompile(`/+`)
	escapeRegex  = regexp.MustCompile(`%[0-9a-fA-F]{2}`)

	countryNames = map[string]string{
		"UNITED STATES":  "US",
		"UNITED KINGDOM": "GB",
		"GREAT BRITAIN":  "GB",
		"CANADA":         "CA",
		"AUSTRALIA":      "AU",
		"GERMANY":        "DE",
		"FRANCE":         "FR",
		"JAPAN":          "JP",
		"CHINA":          "CN",
		"RUSSIA":         "RU",
	}
)

// Normalizer handles normalization of raw log fields
type Normalizer struct{}

// NewNormalizer creates a new Normalizer instance
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// NormalizePath strips query and fragment, collapses repeated slashes,
// percent-decodes and lower-cases a request path.
func (n *Normalizer) NormalizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	path = slashesRegex.ReplaceAllString(path, "/")

	// Malformed escapes stay literal
	path = escapeRegex.ReplaceAllStringFunc(path, func(escape string) string {
		b, _ := hex.DecodeString(escape[1:])
		return string(b)
	})

	return strings.ToLower(path)
}

// SanitizeUserAgent removes control and quote characters and caps the length.
// Empty agents become UnknownUserAgent.
func (n *Normalizer) SanitizeUserAgent(userAgent string) string {
	if userAgent == "" || userAgent == "-" {
		return UnknownUserAgent
	}

	var b strings.Builder
	b.Grow(len(userAgent))
	for _, r := range userAgent {
		if unicode.IsControl(r) || strings.ContainsRune(`<>"'`, r) {
			continue
		}
		b.WriteRune(r)
	}

	sanitized := strings.TrimSpace(b.String())
	if utf8.RuneCountInString(sanitized) > maxUserAgentLength {
		sanitized = strings.TrimSpace(string([]rune(sanitized)[:maxUserAgentLength]))
	}
	if sanitized == "" {
		return UnknownUserAgent
	}
	return sanitized
}

// NormalizeCountry maps a raw country field to a two letter code, UnknownCountry if unknown
func (n *Normalizer) NormalizeCountry(country string) string {
	country = strings.ToUpper(strings.TrimSpace(country))
	switch country {
	case "", "-", "--", "UNKNOWN":
		return UnknownCountry
	}

	if len(country) == 2 && isASCIILetter(country[0]) && isASCIILetter(country[1]) {
		return country
	}
	if code, ok := countryNames[country]; ok {
		return code
	}
	return UnknownCountry
}

// NormalizeMethod upper-cases an HTTP method and reports whether it is a valid token
func (n *Normalizer) NormalizeMethod(method string) (string, bool) {
	method = strings.ToUpper(method)
	if method == "" {
		return "", false
	}
	for i := 0; i < len(method); i++ {
		if !isASCIILetter(method[i]) {
			return "", false
		}
	}
	return method, true
}

func isASCIILetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}
