// Package pipeline sequences the query stages, enforces per-stage budgets,
// emits progress events and shapes the final result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/climateqa/climateqa/internal/cache"
	"github.com/climateqa/climateqa/internal/capability"
	"github.com/climateqa/climateqa/internal/classifier"
	"github.com/climateqa/climateqa/internal/faithfulness"
	"github.com/climateqa/climateqa/internal/generator"
	"github.com/climateqa/climateqa/internal/language"
	"github.com/climateqa/climateqa/internal/models"
	"github.com/climateqa/climateqa/internal/observability"
)

// Stage names, in execution order.
const (
	StageRouting      = "Routing"
	StageTranslating  = "Translating"
	StageClassifying  = "Classifying"
	StageCacheLookup  = "CacheLookup"
	StageRetrieving   = "Retrieving"
	StageGenerating   = "Generating"
	StageVerifying    = "Verifying"
	StageTranslateOut = "TranslatingOut"
	StageCaching      = "Caching"
	StageComplete     = "Complete"
)

const (
	maxQueryRunes   = 2000
	historyKeepLast = 20
	historyHardCap  = 50
)

// Canned user-facing messages for terminal short-circuits.
const (
	offTopicMessage     = "I can only answer questions about climate change, the environment and related topics."
	harmfulMessage      = "I cannot help with that request."
	noDocumentsMessage  = "No relevant information was found to answer this question."
	cancelledMessage    = "cancelled"
	upstreamFailMessage = "The service could not complete your request. Please try again."
)

// Budgets are per-stage wall-clock limits. Every capability call runs under
// the smaller of its stage budget and the remaining request deadline.
type Budgets struct {
	Route           time.Duration
	TranslateIn     time.Duration
	Classify        time.Duration
	CacheLookup     time.Duration
	Retrieve        time.Duration
	Generate        time.Duration
	Faithfulness    time.Duration
	TranslateOut    time.Duration
	CacheWrite      time.Duration
	RequestDeadline time.Duration
}

// DefaultBudgets returns the production stage budgets.
func DefaultBudgets() Budgets {
	return Budgets{
		Route:           100 * time.Millisecond,
		TranslateIn:     5 * time.Second,
		Classify:        10 * time.Second,
		CacheLookup:     200 * time.Millisecond,
		Retrieve:        15 * time.Second,
		Generate:        20 * time.Second,
		Faithfulness:    5 * time.Second,
		TranslateOut:    10 * time.Second,
		CacheWrite:      500 * time.Millisecond,
		RequestDeadline: 60 * time.Second,
	}
}

// Classifier produces a verdict for one query.
type Classifier interface {
	Classify(ctx context.Context, query, declaredCode string) (models.ClassifierVerdict, error)
}

// DocumentRetriever fetches grounding documents; failures degrade to an
// empty list inside the implementation.
type DocumentRetriever interface {
	Retrieve(ctx context.Context, query string) []models.Document
}

// AnswerGenerator produces a grounded English answer.
type AnswerGenerator interface {
	Generate(ctx context.Context, query string, docs []models.Document, family models.Family, lang string, history []models.Message) (generator.Output, error)
}

// FaithfulnessGuard scores and possibly replaces an answer.
type FaithfulnessGuard interface {
	Check(ctx context.Context, question, answer string, contexts []models.Document) faithfulness.Verdict
}

// Pipeline owns no capabilities; every dependency is a constructor parameter.
type Pipeline struct {
	router     *language.Router
	translator capability.Translator
	classifier Classifier
	queryCache *cache.QueryCache
	retriever  DocumentRetriever
	generator  AnswerGenerator
	guard      FaithfulnessGuard
	budgets    Budgets
	metrics    *observability.Metrics
	logger     *logrus.Logger
}

// New wires a pipeline. metrics may be nil.
func New(router *language.Router, translator capability.Translator, clf Classifier, queryCache *cache.QueryCache, retriever DocumentRetriever, gen AnswerGenerator, guard FaithfulnessGuard, budgets Budgets, metrics *observability.Metrics, logger *logrus.Logger) *Pipeline {
	if budgets == (Budgets{}) {
		budgets = DefaultBudgets()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{
		router:     router,
		translator: translator,
		classifier: clf,
		queryCache: queryCache,
		retriever:  retriever,
		generator:  gen,
		guard:      guard,
		budgets:    budgets,
		metrics:    metrics,
		logger:     logger,
	}
}

// progressSink emits monotonic progress events with a drop-on-full policy so
// a slow consumer never affects pipeline correctness.
type progressSink struct {
	ch   chan<- models.ProgressEvent
	last float64
}

func (s *progressSink) emit(stage string, pct float64) {
	if s.ch == nil || pct <= s.last {
		return
	}
	s.last = pct
	select {
	case s.ch <- models.ProgressEvent{Stage: stage, Pct: pct}:
	default:
	}
}

// Process runs the full pipeline for one request. It always returns a
// populated Result; a non-nil *StageError accompanies failure results so the
// transport can map them to status codes. progress may be nil.
func (p *Pipeline) Process(ctx context.Context, req models.QueryRequest, progress chan<- models.ProgressEvent) (models.Result, *StageError) {
	start := time.Now()
	sink := &progressSink{ch: progress}
	defer sink.emit(StageComplete, 1.0)

	ctx, cancel := context.WithTimeout(ctx, p.budgets.RequestDeadline)
	defer cancel()

	result, stageErr := p.run(ctx, req, sink, start)
	result.ProcessingTime = time.Since(start).Seconds()

	if p.metrics != nil {
		status := "success"
		if stageErr != nil {
			status = string(stageErr.Kind)
		}
		p.metrics.RequestsTotal.WithLabelValues(status).Inc()
	}
	if stageErr != nil {
		p.logger.WithFields(logrus.Fields{
			"kind":  stageErr.Kind,
			"stage": stageErr.Stage,
		}).WithError(stageErr.Err).Warn("Request failed")
	}
	return result, stageErr
}

func (p *Pipeline) run(ctx context.Context, req models.QueryRequest, sink *progressSink, start time.Time) (models.Result, *StageError) {
	declared := language.Normalize(req.Language)

	if stageErr := validate(req, declared); stageErr != nil {
		return errorResult(stageErr, declared), stageErr
	}
	history := req.History
	if len(history) > historyKeepLast {
		history = history[len(history)-historyKeepLast:]
	}

	// Route
	sink.emit(StageRouting, 0.02)
	verdict := p.router.Route(req.Query, declared)
	if !verdict.ShouldProceed {
		stageErr := &StageError{Kind: KindLanguageMismatch, Stage: StageRouting, Elapsed: time.Since(start), Message: verdict.Message}
		return errorResult(stageErr, declared), stageErr
	}
	family := verdict.Family

	if stageErr := p.cancelled(ctx, StageRouting, start); stageErr != nil {
		return errorResult(stageErr, declared), stageErr
	}

	// Translate-in. Skipped when detection disagrees with the declared code:
	// translating from the wrong source language garbles the query, and the
	// classifier's rewrite produces the English form anyway.
	englishQuery := req.Query
	if verdict.NeedsTranslation && !verdict.LanguageMismatch {
		sink.emit(StageTranslating, 0.08)
		englishQuery = p.withBudget(ctx, p.budgets.TranslateIn, StageTranslating, func(callCtx context.Context) string {
			return p.translator.Translate(callCtx, req.Query, language.Name(declared), language.Name(language.English))
		})
	}

	if stageErr := p.cancelled(ctx, StageTranslating, start); stageErr != nil {
		return errorResult(stageErr, declared), stageErr
	}

	// Classify / rewrite
	sink.emit(StageClassifying, 0.14)
	clfStart := time.Now()
	clfCtx, clfCancel := context.WithTimeout(ctx, p.budgets.Classify)
	clfVerdict, err := p.classifier.Classify(clfCtx, englishQuery, declared)
	clfCancel()
	p.observeStage(StageClassifying, clfStart)
	if err != nil {
		stageErr := mapCapabilityError(StageClassifying, err, start)
		return errorResult(stageErr, declared), stageErr
	}
	// A bare LanguageMatch=no is not enough to refuse; the classifier must
	// also name a definite language that differs from the declared one.
	clfDetected := language.Normalize(clfVerdict.DetectedLanguage)
	if clfVerdict.LanguageMatch == "no" && clfDetected != "" && clfDetected != language.Unknown && clfDetected != declared {
		stageErr := &StageError{Kind: KindLanguageMismatch, Stage: StageClassifying, Elapsed: time.Since(start), Message: language.MismatchMessage}
		return errorResult(stageErr, declared), stageErr
	}
	if classifier.IsRefusal(clfVerdict) {
		if p.metrics != nil {
			p.metrics.Refusals.WithLabelValues(clfVerdict.Classification).Inc()
		}
		message := offTopicMessage
		if clfVerdict.Classification == models.ClassificationHarmful {
			message = harmfulMessage
		}
		message = p.localizeMessage(ctx, message, declared)
		stageErr := &StageError{Kind: KindRefusal, Stage: StageClassifying, Elapsed: time.Since(start), Message: message}
		return errorResult(stageErr, declared), stageErr
	}

	workingQuery := englishQuery
	if clfVerdict.RewrittenQuery != "" {
		workingQuery = clfVerdict.RewrittenQuery
	}

	if stageErr := p.cancelled(ctx, StageClassifying, start); stageErr != nil {
		return errorResult(stageErr, declared), stageErr
	}

	// Cache lookup
	sink.emit(StageCacheLookup, 0.20)
	if !req.SkipCache {
		lookupCtx, lookupCancel := context.WithTimeout(ctx, p.budgets.CacheLookup)
		entry, _, match := p.queryCache.Lookup(lookupCtx, declared, family, workingQuery)
		lookupCancel()
		if p.metrics != nil {
			outcome := "miss"
			switch match {
			case cache.MatchExact:
				outcome = "hit"
			case cache.MatchFuzzy:
				outcome = "fuzzy_hit"
			}
			p.metrics.CacheLookups.WithLabelValues(outcome).Inc()
		}
		if match != cache.MatchNone {
			result := entry.Result
			result.ProcessingTime = time.Since(start).Seconds()
			p.logger.WithField("language", declared).Debug("Query cache hit")
			return result, nil
		}
	}

	if stageErr := p.cancelled(ctx, StageCacheLookup, start); stageErr != nil {
		return errorResult(stageErr, declared), stageErr
	}

	// Retrieve
	sink.emit(StageRetrieving, 0.35)
	retrieveStart := time.Now()
	retrieveCtx, retrieveCancel := context.WithTimeout(ctx, p.budgets.Retrieve)
	docs := p.retriever.Retrieve(retrieveCtx, workingQuery)
	retrieveCancel()
	p.observeStage(StageRetrieving, retrieveStart)

	if stageErr := p.cancelled(ctx, StageRetrieving, start); stageErr != nil {
		return errorResult(stageErr, declared), stageErr
	}

	// Generate
	sink.emit(StageGenerating, 0.70)
	genStart := time.Now()
	genCtx, genCancel := context.WithTimeout(ctx, p.budgets.Generate)
	output, err := p.generator.Generate(genCtx, workingQuery, docs, family, declared, history)
	genCancel()
	p.observeStage(StageGenerating, genStart)
	if err != nil {
		var stageErr *StageError
		if errors.Is(err, generator.ErrNoDocuments) {
			stageErr = &StageError{Kind: KindUpstreamFailure, Stage: StageGenerating, Elapsed: time.Since(start), Message: noDocumentsMessage, Err: err}
		} else {
			stageErr = mapCapabilityError(StageGenerating, err, start)
		}
		return errorResult(stageErr, declared), stageErr
	}

	if stageErr := p.cancelled(ctx, StageGenerating, start); stageErr != nil {
		return errorResult(stageErr, declared), stageErr
	}

	// Faithfulness
	sink.emit(StageVerifying, 0.90)
	guardStart := time.Now()
	guardCtx, guardCancel := context.WithTimeout(ctx, p.budgets.Faithfulness)
	guardVerdict := p.guard.Check(guardCtx, workingQuery, output.Answer, docs)
	guardCancel()
	p.observeStage(StageVerifying, guardStart)
	if p.metrics != nil {
		p.metrics.FaithfulnessScores.Observe(guardVerdict.Score)
	}

	if stageErr := p.cancelled(ctx, StageVerifying, start); stageErr != nil {
		return errorResult(stageErr, declared), stageErr
	}

	englishAnswer := guardVerdict.Answer

	// Translate-out
	finalAnswer := englishAnswer
	if declared != language.English {
		sink.emit(StageTranslateOut, 0.96)
		finalAnswer = p.withBudget(ctx, p.budgets.TranslateOut, StageTranslateOut, func(callCtx context.Context) string {
			return p.translator.Translate(callCtx, englishAnswer, language.Name(language.English), language.Name(declared))
		})
	}

	result := models.Result{
		Success:           true,
		Response:          finalAnswer,
		Citations:         output.Citations,
		FaithfulnessScore: guardVerdict.Score,
		LanguageCode:      declared,
		ModelUsed:         output.ModelUsed,
		ModelFamily:       family,
	}
	result.ProcessingTime = time.Since(start).Seconds()

	if stageErr := p.cancelled(ctx, StageTranslateOut, start); stageErr != nil {
		return errorResult(stageErr, declared), stageErr
	}

	// Cache write, best-effort. skip_cache bypasses the lookup only; the
	// write still lands, so a forced regeneration replaces the stale entry.
	sink.emit(StageCaching, 0.99)
	writeCtx, writeCancel := context.WithTimeout(context.WithoutCancel(ctx), p.budgets.CacheWrite)
	p.queryCache.Store(writeCtx, declared, family, workingQuery, result)
	if declared != language.English {
		// The English twin keys under the English family but records the
		// backend that actually produced the answer.
		englishResult := result
		englishResult.Response = englishAnswer
		englishResult.LanguageCode = language.English
		p.queryCache.Store(writeCtx, language.English, language.FamilyFor(language.English), workingQuery, englishResult)
	}
	writeCancel()

	return result, nil
}

func (p *Pipeline) observeStage(stage string, start time.Time) {
	if p.metrics != nil {
		p.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// withBudget runs a translation-style call that cannot fail under a stage
// budget and records its duration.
func (p *Pipeline) withBudget(ctx context.Context, budget time.Duration, stage string, call func(context.Context) string) string {
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	stageStart := time.Now()
	out := call(callCtx)
	if p.metrics != nil {
		p.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(stageStart).Seconds())
	}
	return out
}

// cancelled checks the request context between stages.
func (p *Pipeline) cancelled(ctx context.Context, stage string, start time.Time) *StageError {
	if err := ctx.Err(); err != nil {
		kind := KindCancelled
		message := cancelledMessage
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindUpstreamTimeout
			message = upstreamFailMessage
		}
		return &StageError{Kind: kind, Stage: stage, Elapsed: time.Since(start), Message: message, Err: err}
	}
	return nil
}

// localizeMessage translates a canned message into the declared language,
// best-effort.
func (p *Pipeline) localizeMessage(ctx context.Context, message, declared string) string {
	if declared == language.English || p.translator == nil {
		return message
	}
	return p.withBudget(ctx, p.budgets.TranslateOut, StageTranslateOut, func(callCtx context.Context) string {
		return p.translator.Translate(callCtx, message, language.Name(language.English), language.Name(declared))
	})
}

func validate(req models.QueryRequest, declared string) *StageError {
	runes := len([]rune(req.Query))
	switch {
	case !utf8.ValidString(req.Query) || isBlank(req.Query):
		return inputError("query must not be empty")
	case runes > maxQueryRunes:
		return inputError(fmt.Sprintf("query exceeds %d characters", maxQueryRunes))
	case !language.IsSupported(declared):
		return inputError(fmt.Sprintf("unsupported language code %q", req.Language))
	case len(req.History) > historyHardCap:
		return inputError(fmt.Sprintf("conversation history exceeds %d turns", historyHardCap))
	}
	return nil
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}

func inputError(message string) *StageError {
	return &StageError{Kind: KindInputInvalid, Stage: StageRouting, Message: message}
}

// mapCapabilityError classifies a capability failure at the stage boundary.
func mapCapabilityError(stage string, err error, start time.Time) *StageError {
	kind := KindUpstreamFailure
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindUpstreamTimeout
	} else if errors.Is(err, context.Canceled) {
		kind = KindCancelled
	}
	message := upstreamFailMessage
	if kind == KindCancelled {
		message = cancelledMessage
	}
	return &StageError{Kind: kind, Stage: stage, Elapsed: time.Since(start), Message: message, Err: err}
}

// errorResult shapes a failure into the caller-facing record: success=false,
// no citations, zero faithfulness, explanation in the declared language when
// one was produced.
func errorResult(stageErr *StageError, declared string) models.Result {
	return models.Result{
		Success:      false,
		Response:     stageErr.Message,
		Citations:    []models.Citation{},
		LanguageCode: declared,
	}
}
