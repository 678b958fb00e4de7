// Package language owns the closed registry of supported languages, the
// script/stopword detector and the request router that decides whether a
// request proceeds, which model family serves it and whether translation
// is required.
package language

import (
	"strings"

	"github.com/climateqa/climateqa/internal/models"
)

// Unknown is returned by detection when no language can be determined.
const Unknown = "unknown"

// English is always present in the registry.
const English = "en"

// Info describes a registry entry.
type Info struct {
	Name   string
	Family models.Family
}

// registry maps 2-letter codes to their human name and model family.
// Every supported code has exactly one family assignment.
var registry = map[string]Info{
	"en": {Name: "English", Family: models.FamilyClaude},
	"es": {Name: "Spanish", Family: models.FamilyClaude},
	"fr": {Name: "French", Family: models.FamilyClaude},
	"de": {Name: "German", Family: models.FamilyClaude},
	"it": {Name: "Italian", Family: models.FamilyClaude},
	"pt": {Name: "Portuguese", Family: models.FamilyClaude},
	"nl": {Name: "Dutch", Family: models.FamilyClaude},
	"ja": {Name: "Japanese", Family: models.FamilyClaude},
	"zh": {Name: "Chinese", Family: models.FamilyClaude},
	"pl": {Name: "Polish", Family: models.FamilyCommand},
	"ru": {Name: "Russian", Family: models.FamilyCommand},
	"ko": {Name: "Korean", Family: models.FamilyCommand},
	"ar": {Name: "Arabic", Family: models.FamilyCommand},
	"he": {Name: "Hebrew", Family: models.FamilyCommand},
	"hi": {Name: "Hindi", Family: models.FamilyCommand},
	"el": {Name: "Greek", Family: models.FamilyCommand},
	"th": {Name: "Thai", Family: models.FamilyCommand},
	"tr": {Name: "Turkish", Family: models.FamilyCommand},
	"sv": {Name: "Swedish", Family: models.FamilyCommand},
	"da": {Name: "Danish", Family: models.FamilyCommand},
	"id": {Name: "Indonesian", Family: models.FamilyCommand},
	"vi": {Name: "Vietnamese", Family: models.FamilyCommand},
	"uk": {Name: "Ukrainian", Family: models.FamilyCommand},
	"cs": {Name: "Czech", Family: models.FamilyCommand},
	"ro": {Name: "Romanian", Family: models.FamilyCommand},
	"fi": {Name: "Finnish", Family: models.FamilyCommand},
	"no": {Name: "Norwegian", Family: models.FamilyCommand},
	"hu": {Name: "Hungarian", Family: models.FamilyCommand},
}

// aliases collapses region variants to their base registry code.
var aliases = map[string]string{
	"zh-cn":   "zh",
	"zh-tw":   "zh",
	"zh-hans": "zh",
	"zh-hant": "zh",
	"pt-br":   "pt",
	"pt-pt":   "pt",
	"en-us":   "en",
	"en-gb":   "en",
	"es-mx":   "es",
	"es-es":   "es",
	"fr-ca":   "fr",
	"nb":      "no",
	"nn":      "no",
}

// Normalize lowercases a code and collapses region variants. Codes that are
// not in the registry come back unchanged (lowercased) so callers can report
// the original value.
func Normalize(code string) string {
	c := strings.ToLower(strings.TrimSpace(code))
	if alias, ok := aliases[c]; ok {
		return alias
	}
	if _, ok := registry[c]; ok {
		return c
	}
	// "de-AT" style variants not in the alias table fall back to the base code.
	if i := strings.IndexAny(c, "-_"); i == 2 {
		base := c[:2]
		if _, ok := registry[base]; ok {
			return base
		}
	}
	return c
}

// IsSupported reports whether a normalized code is in the registry.
func IsSupported(code string) bool {
	_, ok := registry[Normalize(code)]
	return ok
}

// Name returns the human-readable name for a code, or the code itself when
// unknown. Translators receive names, not codes.
func Name(code string) string {
	if info, ok := registry[Normalize(code)]; ok {
		return info.Name
	}
	return code
}

// FamilyFor returns the model family assigned to a code. Unknown codes get
// the secondary family, which is the designated fallback.
func FamilyFor(code string) models.Family {
	if info, ok := registry[Normalize(code)]; ok {
		return info.Family
	}
	return models.FamilyCommand
}

// Codes returns all registered codes. Order is unspecified.
func Codes() []string {
	out := make([]string, 0, len(registry))
	for c := range registry {
		out = append(out, c)
	}
	return out
}
