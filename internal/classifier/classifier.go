// Package classifier turns a single structured LLM call into a
// ClassifierVerdict: detected language, topic classification, language-match
// flag and an optional English rewrite of the query.
package classifier

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/climateqa/climateqa/internal/capability"
	"github.com/climateqa/climateqa/internal/language"
	"github.com/climateqa/climateqa/internal/models"
)

const systemPrompt = `You are a query gatekeeper for a climate-change question answering service.
Given a user query, respond with EXACTLY four lines and nothing else:

Language: <2-letter ISO code of the query language, or "unknown">
Classification: <on-topic|off-topic|harmful>
LanguageMatch: <yes|no|unknown>
Rewritten: <a clear, self-contained English version of the query, or "N/A">

Rules:
- "on-topic" means the query concerns climate, environment, energy, emissions,
  weather patterns, sustainability or closely related science and policy.
- "harmful" means the query requests dangerous, hateful or illegal content.
- Everything else is "off-topic".
- LanguageMatch compares the query language against the declared language given in the prompt.
- Rewritten must preserve the question's meaning. Use "N/A" when the query is already clear English.`

var (
	languageLine       = regexp.MustCompile(`(?im)^\s*Language:\s*(\S+)\s*$`)
	classificationLine = regexp.MustCompile(`(?im)^\s*Classification:\s*(\S+)\s*$`)
	matchLine          = regexp.MustCompile(`(?im)^\s*LanguageMatch:\s*(\S+)\s*$`)
	rewrittenLine      = regexp.MustCompile(`(?im)^\s*Rewritten:\s*(.+?)\s*$`)
)

// Adapter wraps the structured LLM behind the classification protocol.
type Adapter struct {
	llm    capability.StructuredLLM
	logger *logrus.Logger
}

// NewAdapter creates a classifier adapter.
func NewAdapter(llm capability.StructuredLLM, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{llm: llm, logger: logger}
}

// Classify runs one LLM call and parses the verdict. Fields missing from the
// response default to conservative values: unknown language, off-topic,
// unknown match, no rewrite.
func (a *Adapter) Classify(ctx context.Context, query, declaredCode string) (models.ClassifierVerdict, error) {
	prompt := fmt.Sprintf("Declared language: %s (%s)\nQuery: %s",
		declaredCode, language.Name(declaredCode), query)

	raw, err := a.llm.GenerateStructured(ctx, prompt, systemPrompt)
	if err != nil {
		return models.ClassifierVerdict{}, fmt.Errorf("classifier call failed: %w", err)
	}

	verdict := ParseVerdict(raw)
	a.logger.WithFields(logrus.Fields{
		"detected":       verdict.DetectedLanguage,
		"classification": verdict.Classification,
		"language_match": verdict.LanguageMatch,
		"rewritten":      verdict.RewrittenQuery != "",
	}).Debug("Classifier verdict")
	return verdict, nil
}

// ParseVerdict extracts the four labeled lines from a raw LLM response.
// Anything malformed falls back to the conservative default for that field.
func ParseVerdict(raw string) models.ClassifierVerdict {
	verdict := models.ClassifierVerdict{
		DetectedLanguage: language.Unknown,
		Classification:   models.ClassificationOffTopic,
		LanguageMatch:    "unknown",
	}

	if m := languageLine.FindStringSubmatch(raw); m != nil {
		code := strings.ToLower(m[1])
		if code == language.Unknown || language.IsSupported(code) {
			verdict.DetectedLanguage = language.Normalize(code)
			if code == language.Unknown {
				verdict.DetectedLanguage = language.Unknown
			}
		}
	}

	if m := classificationLine.FindStringSubmatch(raw); m != nil {
		switch strings.ToLower(m[1]) {
		case models.ClassificationOnTopic:
			verdict.Classification = models.ClassificationOnTopic
		case models.ClassificationHarmful:
			verdict.Classification = models.ClassificationHarmful
		default:
			verdict.Classification = models.ClassificationOffTopic
		}
	}

	if m := matchLine.FindStringSubmatch(raw); m != nil {
		switch strings.ToLower(m[1]) {
		case "yes", "no":
			verdict.LanguageMatch = strings.ToLower(m[1])
		}
	}

	if m := rewrittenLine.FindStringSubmatch(raw); m != nil {
		rewritten := strings.TrimSpace(m[1])
		if !strings.EqualFold(rewritten, "N/A") && rewritten != "" {
			verdict.RewrittenQuery = rewritten
		}
	}

	return verdict
}

// IsRefusal reports whether a verdict terminates the request before any
// retrieval or generation happens.
func IsRefusal(v models.ClassifierVerdict) bool {
	return v.Classification != models.ClassificationOnTopic
}
