// Package faithfulness scores how well an answer is supported by its
// retrieved contexts and applies the accept/degrade/reject thresholds.
package faithfulness

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/climateqa/climateqa/internal/capability"
	"github.com/climateqa/climateqa/internal/models"
)

// Scorer assigns a support score in [0,1] to an answer given its contexts.
type Scorer interface {
	Score(ctx context.Context, question, answer string, contexts []models.Document) (float64, error)
}

const (
	// DefaultFaithfulThreshold is the floor for a fully trusted answer.
	DefaultFaithfulThreshold = 0.7
	// DefaultDegradedFloor is the floor below which answers are rejected.
	DefaultDegradedFloor = 0.4
	// FallbackScore is assigned when the scoring capability fails, so the
	// answer is returned low-confidence instead of blocking the user.
	FallbackScore = 0.3
)

// RejectedMessage replaces answers whose score falls below the degraded
// floor. Citations are preserved so the user can read the sources directly.
const RejectedMessage = "I could not produce a reliably sourced answer to this question. Please consult the cited sources directly."

const scoringSystemPrompt = `You judge whether an answer is supported by the given source passages.
Respond with exactly one line: "Score: <number between 0 and 1>" where 1 means every claim is supported and 0 means none are.`

var scoreLine = regexp.MustCompile(`(?i)score:\s*([0-9]*\.?[0-9]+)`)

// LLMScorer implements Scorer with one structured LLM call.
type LLMScorer struct {
	llm    capability.StructuredLLM
	logger *logrus.Logger
}

// NewLLMScorer creates an LLM-backed scorer.
func NewLLMScorer(llm capability.StructuredLLM, logger *logrus.Logger) *LLMScorer {
	if logger == nil {
		logger = logrus.New()
	}
	return &LLMScorer{llm: llm, logger: logger}
}

// Score asks the LLM to grade the answer against its contexts.
func (s *LLMScorer) Score(ctx context.Context, question, answer string, contexts []models.Document) (float64, error) {
	var sb strings.Builder
	sb.WriteString("Sources:\n")
	for i, doc := range contexts {
		fmt.Fprintf(&sb, "%d. %s\n%s\n\n", i+1, doc.Title, doc.Content)
	}
	fmt.Fprintf(&sb, "Question: %s\n\nAnswer: %s", question, answer)

	raw, err := s.llm.GenerateStructured(ctx, sb.String(), scoringSystemPrompt)
	if err != nil {
		return 0, fmt.Errorf("faithfulness call failed: %w", err)
	}
	return ParseScore(raw)
}

// ParseScore extracts a "Score: 0.85" style value and clamps it to [0,1].
func ParseScore(raw string) (float64, error) {
	m := scoreLine.FindStringSubmatch(raw)
	if m == nil {
		return 0, fmt.Errorf("no score in response: %q", firstLine(raw))
	}
	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("malformed score %q: %w", m[1], err)
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Verdict is the guard's decision for one answer.
type Verdict struct {
	Score    float64
	Answer   string // possibly replaced by RejectedMessage
	Rejected bool
	Degraded bool
}

// Guard applies the score thresholds.
type Guard struct {
	scorer            Scorer
	faithfulThreshold float64
	degradedFloor     float64
	logger            *logrus.Logger
}

// NewGuard creates a guard. Zero thresholds fall back to defaults.
func NewGuard(scorer Scorer, faithfulThreshold, degradedFloor float64, logger *logrus.Logger) *Guard {
	if faithfulThreshold == 0 {
		faithfulThreshold = DefaultFaithfulThreshold
	}
	if degradedFloor == 0 {
		degradedFloor = DefaultDegradedFloor
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Guard{
		scorer:            scorer,
		faithfulThreshold: faithfulThreshold,
		degradedFloor:     degradedFloor,
		logger:            logger,
	}
}

// Check scores the answer and applies thresholds. Scorer failures assign the
// fallback score and return the answer low-confidence instead of rejecting it.
func (g *Guard) Check(ctx context.Context, question, answer string, contexts []models.Document) Verdict {
	score, err := g.scorer.Score(ctx, question, answer, contexts)
	if err != nil {
		g.logger.WithError(err).Warn("Faithfulness scoring failed, using fallback score")
		return Verdict{Score: FallbackScore, Answer: answer, Degraded: true}
	}

	verdict := Verdict{Score: score, Answer: answer}
	switch {
	case score >= g.faithfulThreshold:
		// faithful
	case score >= g.degradedFloor:
		verdict.Degraded = true
		g.logger.WithField("score", score).Warn("Answer faithfulness degraded")
	default:
		verdict.Rejected = true
		verdict.Answer = RejectedMessage
		g.logger.WithField("score", score).Warn("Answer rejected for low faithfulness")
	}
	return verdict
}
