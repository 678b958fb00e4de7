package language

import (
	"github.com/sirupsen/logrus"

	"github.com/climateqa/climateqa/internal/models"
)

// MismatchMessage is surfaced when the declared language is English but the
// utterance is definitely written in something else.
const MismatchMessage = "Your question appears to be written in a different language than the one you selected. " +
	"Please switch the interface language or rewrite your question in the selected language."

// Router arbitrates between the declared UI language and the detected
// utterance language.
//
// The policy is deliberately asymmetric: English declared with a definite
// non-English detection refuses outright, while a non-English declaration
// with a disagreeing detection only sets a mismatch flag and proceeds,
// because downstream translation usually repairs those requests.
type Router struct {
	logger *logrus.Logger
}

// NewRouter creates a router.
func NewRouter(logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	return &Router{logger: logger}
}

// Route produces the per-request routing verdict. Detection never fails; on
// ambiguity it returns Unknown and the request proceeds without a mismatch.
func (r *Router) Route(utterance, declaredCode string) models.RoutingVerdict {
	declared := Normalize(declaredCode)
	detected := Detect(utterance)

	verdict := models.RoutingVerdict{
		ShouldProceed:    true,
		Family:           FamilyFor(declared),
		NeedsTranslation: declared != English,
		DetectedLanguage: detected,
		ProcessedQuery:   utterance,
		EnglishQuery:     utterance,
	}

	definite := detected != Unknown
	switch {
	case declared == English && definite && detected != English:
		verdict.ShouldProceed = false
		verdict.Message = MismatchMessage
	case declared != English && definite && detected != declared:
		verdict.LanguageMismatch = true
	}

	r.logger.WithFields(logrus.Fields{
		"declared": declared,
		"detected": detected,
		"family":   verdict.Family,
		"proceed":  verdict.ShouldProceed,
		"mismatch": verdict.LanguageMismatch,
	}).Debug("Routed query")

	return verdict
}
