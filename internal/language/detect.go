package language

import (
	"strings"
	"unicode"
)

// greetings maps short utterances that would otherwise score as random Latin
// languages straight to English.
var greetings = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "thanks": {}, "thank you": {},
	"ok": {}, "okay": {}, "yes": {}, "no": {}, "good morning": {},
	"good afternoon": {}, "good evening": {}, "bye": {}, "goodbye": {},
	"please": {}, "sure": {}, "great": {},
}

// stopwords drive Latin-script scoring. Each entry is a small set of very
// frequent function words; counting hits is enough to separate the languages
// the service supports.
var stopwords = map[string][]string{
	"en": {"the", "is", "are", "what", "how", "why", "and", "of", "to", "in", "do", "does", "can", "will", "about"},
	"es": {"el", "la", "los", "las", "es", "son", "que", "qué", "cómo", "por", "para", "del", "una", "uno", "causa"},
	"fr": {"le", "la", "les", "est", "sont", "que", "quoi", "comment", "pourquoi", "des", "une", "dans", "est-ce", "quel"},
	"de": {"der", "die", "das", "ist", "sind", "was", "wie", "warum", "und", "für", "eine", "nicht", "ich", "sie"},
	"it": {"il", "lo", "la", "gli", "che", "cosa", "come", "perché", "sono", "una", "del", "della", "di", "non"},
	"pt": {"o", "a", "os", "as", "é", "são", "que", "como", "por", "para", "uma", "do", "da", "não"},
	"nl": {"de", "het", "een", "is", "zijn", "wat", "hoe", "waarom", "van", "voor", "niet", "ik", "je"},
	"pl": {"co", "jak", "dlaczego", "jest", "są", "nie", "tak", "czy", "się", "na", "do", "przez"},
	"tr": {"ne", "nasıl", "neden", "bir", "bu", "ve", "için", "mi", "mı", "değil", "var"},
	"sv": {"vad", "hur", "varför", "är", "en", "ett", "och", "inte", "det", "som", "jag"},
	"da": {"hvad", "hvordan", "hvorfor", "er", "en", "et", "og", "ikke", "det", "som", "jeg"},
	"id": {"apa", "bagaimana", "mengapa", "adalah", "yang", "dan", "tidak", "ini", "itu", "untuk"},
	"vi": {"là", "gì", "như", "thế", "nào", "tại", "sao", "không", "của", "và"},
	"ro": {"ce", "cum", "de", "este", "sunt", "și", "nu", "un", "o", "pentru"},
	"fi": {"mikä", "miten", "miksi", "on", "ovat", "ja", "ei", "että", "tämä"},
	"hu": {"mi", "hogyan", "miért", "van", "és", "nem", "ez", "egy", "hogy"},
	"no": {"hva", "hvordan", "hvorfor", "er", "en", "et", "og", "ikke", "det"},
	"cs": {"co", "jak", "proč", "je", "jsou", "a", "ne", "to", "se"},
}

// minStopwordHits is the lead required before a Latin-script guess counts as
// definite; below it detection returns Unknown.
const minStopwordHits = 2

// Detect guesses the language of an utterance. Scripts are consulted first
// and return a definite code; Latin text is scored by stopword hits. Detect
// never fails; ambiguity yields Unknown.
func Detect(text string) string {
	trimmed := strings.TrimSpace(strings.ToLower(text))
	if trimmed == "" {
		return Unknown
	}

	if _, ok := greetings[strings.Trim(trimmed, "!.?, ")]; ok {
		return English
	}

	if code := detectScript(text); code != "" {
		return code
	}

	return scoreLatin(trimmed)
}

func detectScript(text string) string {
	var han, kana, hangul, arabic, hebrew, cyrillic, devanagari, greek, thai int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			kana++
		case unicode.Is(unicode.Han, r):
			han++
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.Is(unicode.Arabic, r):
			arabic++
		case unicode.Is(unicode.Hebrew, r):
			hebrew++
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Devanagari, r):
			devanagari++
		case unicode.Is(unicode.Greek, r):
			greek++
		case unicode.Is(unicode.Thai, r):
			thai++
		}
	}

	switch {
	case kana > 0:
		return "ja"
	case hangul > 0:
		return "ko"
	case han > 0:
		return "zh"
	case arabic > 0:
		return "ar"
	case hebrew > 0:
		return "he"
	case cyrillic > 0:
		return "ru"
	case devanagari > 0:
		return "hi"
	case greek > 0:
		return "el"
	case thai > 0:
		return "th"
	}
	return ""
}

func scoreLatin(text string) string {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return Unknown
	}

	scores := make(map[string]int, len(stopwords))
	bestScore := 0
	for code, words := range stopwords {
		for _, w := range words {
			if _, ok := tokens[w]; ok {
				scores[code]++
			}
		}
		if scores[code] > bestScore {
			bestScore = scores[code]
		}
	}

	if bestScore < minStopwordHits {
		return Unknown
	}

	leaders := make([]string, 0, 2)
	for code, s := range scores {
		if s == bestScore {
			leaders = append(leaders, code)
		}
	}
	if len(leaders) == 1 {
		return leaders[0]
	}
	// A tie means no clear leader, except that English wins ties to avoid
	// refusing plain English questions that share function words.
	for _, code := range leaders {
		if code == English {
			return English
		}
	}
	return Unknown
}

func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
