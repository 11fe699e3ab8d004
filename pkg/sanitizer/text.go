package sanitizer

import (
	"regexp"
	"strings"
)

var (
	markerPattern = regexp.MustCompile(`(?i)(this is a broadcast message|forwarded many times|forwarded message|newsletter:|broadcast:|announcement:|📢|🔔|📰|🗞️|🗞)`)

	linkPattern = regexp.MustCompile(`(?i)(` +
		`\b[a-z][a-z0-9+.-]*://\S+` +
		`|\bwww\.\S+` +
		`|\b[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)*\.(?:com|net|org|io|me|co|info|biz|xyz|app|dev|site|online|link|ly|gl|tv|pk|in|uk|us)\b(?:/\S*)?` +
		`)`)

	// 03xx-xxxxxxx in local or +92 form
	regionalPhonePattern = regexp.MustCompile(`(?:\+92|0092|\b0)3\d{2}[\s-]?\d{7}\b`)

	internationalPhonePattern = regexp.MustCompile(`\+\d{1,3}[\s-]?\d(?:[\s-]?\d){6,13}\b|\b\d{10,15}\b`)
)

// RemoveMarkers strips newsletter and broadcast branding
func RemoveMarkers(text string) string {
	return markerPattern.ReplaceAllString(text, " ")
}

// RemoveLinksAndNumbers strips URLs and phone-number-shaped tokens, then
// collapses whitespace
func RemoveLinksAndNumbers(text string) string {
	return removeLinksAndNumbers(text, []*regexp.Regexp{regionalPhonePattern, internationalPhonePattern})
}

func removeLinksAndNumbers(text string, phonePatterns []*regexp.Regexp) string {
	text = linkPattern.ReplaceAllString(text, " ")
	for _, p := range phonePatterns {
		text = p.ReplaceAllString(text, " ")
	}
	return CollapseWhitespace(text)
}

func CollapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// CleanText applies the full text pipeline: markers, links, phone numbers,
// whitespace
func CleanText(text string) string {
	return RemoveLinksAndNumbers(RemoveMarkers(text))
}

// Substitution rewrites every match of any pattern with Replacement
type Substitution struct {
	Patterns    []*regexp.Regexp
	Replacement string
}

func NewSubstitution(patterns []string, replacement string) (Substitution, error) {
	sub := Substitution{Replacement: replacement}
	for _, raw := range patterns {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		re, err := regexp.Compile(raw)
		if err != nil {
			return Substitution{}, err
		}
		sub.Patterns = append(sub.Patterns, re)
	}
	return sub, nil
}

func (s Substitution) Enabled() bool {
	return len(s.Patterns) > 0
}

func (s Substitution) Apply(text string) string {
	for _, re := range s.Patterns {
		text = re.ReplaceAllString(text, s.Replacement)
	}
	return text
}
