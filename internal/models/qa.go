// Package models defines the shared data types that flow through the
// question-answering pipeline.
package models

// Family identifies which response-model backend answers a request.
// The language registry assigns exactly one family per language.
type Family string

const (
	// FamilyClaude is the primary backend, used for widely supported languages.
	FamilyClaude Family = "claude"
	// FamilyCommand is the secondary backend, the fallback for languages the
	// primary family does not cover.
	FamilyCommand Family = "command"
)

// Message is a single conversation turn. History items arrive from callers
// in several shapes; ParseHistory collapses all of them into this record and
// nothing else crosses that boundary.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Document is a retrieved source passed to the generator and the
// faithfulness guard. Content is authoritative; Snippet is derived.
// Documents are never mutated after preprocessing.
type Document struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score,omitempty"`
}

// Citation is the caller-facing projection of a Document.
type Citation struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Snippet string `json:"snippet"`
}

// ToCitation projects a document for external rendering.
func (d Document) ToCitation() Citation {
	return Citation{Title: d.Title, URL: d.URL, Content: d.Content, Snippet: d.Snippet}
}

// RoutingVerdict is produced once per request by the language router and is
// immutable thereafter.
type RoutingVerdict struct {
	ShouldProceed    bool   `json:"should_proceed"`
	Family           Family `json:"family"`
	NeedsTranslation bool   `json:"needs_translation"`
	LanguageMismatch bool   `json:"language_mismatch"`
	Message          string `json:"message,omitempty"`
	DetectedLanguage string `json:"detected_language"`
	ProcessedQuery   string `json:"processed_query"`
	EnglishQuery     string `json:"english_query"`
}

// Classification labels from the classifier stage.
const (
	ClassificationOnTopic  = "on-topic"
	ClassificationOffTopic = "off-topic"
	ClassificationHarmful  = "harmful"
)

// ClassifierVerdict is parsed from a structured LLM response. Missing fields
// default to conservative values; anything other than on-topic is terminal.
type ClassifierVerdict struct {
	DetectedLanguage string `json:"detected_language"` // 2-letter code or "unknown"
	Classification   string `json:"classification"`
	LanguageMatch    string `json:"language_match"` // yes | no | unknown
	RewrittenQuery   string `json:"rewritten_query,omitempty"`
}

// QueryRequest is the logical request the pipeline processes.
type QueryRequest struct {
	Query     string    `json:"query"`
	Language  string    `json:"language"`
	History   []Message `json:"conversation_history,omitempty"`
	Stream    bool      `json:"stream"`
	SkipCache bool      `json:"skip_cache"`
}

// Result is the pipeline output, returned both on success and on failure.
// Error results carry Success=false, empty citations and a human-readable
// Response in the declared language when feasible.
type Result struct {
	Success           bool       `json:"success"`
	Response          string     `json:"response"`
	Citations         []Citation `json:"citations"`
	FaithfulnessScore float64    `json:"faithfulness_score"`
	ProcessingTime    float64    `json:"processing_time"`
	LanguageCode      string     `json:"language_code"`
	ModelUsed         string     `json:"model_used"`
	ModelFamily       Family     `json:"model_family"`
}

// ProgressEvent reports pipeline progress. For a given request the Pct
// values never decrease and the final event is always (Complete, 1.0).
type ProgressEvent struct {
	Stage string  `json:"stage"`
	Pct   float64 `json:"pct"`
}
