package catalog

import (
	"regexp"
	"strings"
)

// minStripLen guards against mangling emoji and short category markers like
// "IG" or "YT": tokens this short are never stripped.
const minStripLen = 3

// brandTokens are well-known SMM panel brand names that vendors embed in
// service names. Stripped together with the provider's own name.
var brandTokens = []string{
	"smmpanel",
	"smm panel",
	"justanotherpanel",
	"peakerr",
	"smmkings",
	"smmflare",
	"boostgram",
	"followersup",
	"socialpanel",
	"panelboost",
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// StripBrandTokens removes every token from text using case-insensitive,
// word-boundary matching, then normalizes whitespace and dangling separators.
// Returns the trimmed original when stripping would leave nothing usable.
func StripBrandTokens(text string, tokens []string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	out := trimmed
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if len([]rune(token)) < minStripLen {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(token) + `\b`)
		if err != nil {
			continue
		}
		out = re.ReplaceAllString(out, "")
	}

	out = whitespaceRe.ReplaceAllString(out, " ")
	out = strings.Trim(out, " -|:–")
	if out == "" {
		return trimmed
	}
	return out
}

// BrandTokensFor builds the token list for one provider: the fixed brand
// list plus the provider's name and its spacing variants.
func BrandTokensFor(providerName string) []string {
	name := strings.TrimSpace(providerName)
	tokens := make([]string, 0, len(brandTokens)+3)
	tokens = append(tokens, brandTokens...)
	if name != "" {
		tokens = append(tokens,
			name,
			strings.ReplaceAll(name, " ", ""),
			strings.ReplaceAll(name, " ", "-"),
		)
	}
	return tokens
}
