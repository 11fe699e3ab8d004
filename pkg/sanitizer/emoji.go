package sanitizer

import (
	"strings"

	"github.com/forPelevin/gomoji"
	"github.com/rivo/uniseg"
)

// IsPureEmoji reports whether text is made only of emoji grapheme clusters
// and whitespace, with at least one emoji
func IsPureEmoji(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	gr := uniseg.NewGraphemes(text)
	for gr.Next() {
		cluster := gr.Str()
		if strings.TrimSpace(cluster) == "" {
			continue
		}
		if !gomoji.ContainsEmoji(cluster) {
			return false
		}
		if strings.TrimSpace(gomoji.RemoveEmojis(cluster)) != "" {
			return false
		}
	}
	return true
}
