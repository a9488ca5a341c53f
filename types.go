package consilium

import "encoding/json"

// --- Conversation types ---

// Message is a single turn in a consultation. Immutable once created.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// UserMessage builds a user-role Message.
func UserMessage(text string) Message {
	return Message{Role: "user", Content: text}
}

// AssistantMessage builds an assistant-role Message.
func AssistantMessage(text string) Message {
	return Message{Role: "assistant", Content: text}
}

// --- Documents ---

// Source tags identify which upstream produced a Document. Closed set.
const (
	SourceDrug       = "drug"
	SourceLiterature = "literature"
	SourceGuideline  = "guideline"
)

// Document is one retrieved record, the unit of citation.
//
// Provisional is assigned by the producing agent, sequential from 1 and
// unique within that agent's output only. The synthesizer discards it after
// assigning global citation numbers.
type Document struct {
	Content     string
	Source      string
	Meta        map[string]string
	Provisional int
}

// --- Sub-queries ---

// SubQuery is a typed projection of the user utterance tailored to one
// agent's domain. The closed set of variants is DrugQuery, ResearchQuery,
// GuidelineQuery, and GeneralQuery.
type SubQuery interface {
	isSubQuery()
}

// DrugQuery targets the pharmaceutical registry.
type DrugQuery struct {
	Term   string
	Intent string // e.g. "contraindications", "dosage", "reimbursement"
}

// ResearchQuery targets the biomedical literature service.
// Lang carries the user's language tag (e.g. "cs") so the agent can decide
// whether query and result translation are needed.
type ResearchQuery struct {
	Term    string
	Filters map[string]string
	Lang    string
}

// GuidelineQuery targets the indexed guideline corpus.
type GuidelineQuery struct {
	Term string
}

// GeneralQuery carries the raw utterance to the fallback agent.
type GeneralQuery struct {
	Utterance string
}

func (DrugQuery) isSubQuery()      {}
func (ResearchQuery) isSubQuery()  {}
func (GuidelineQuery) isSubQuery() {}
func (GeneralQuery) isSubQuery()   {}

// --- Dispatch plan ---

// Agent identifiers. Closed set; the classifier never emits anything else.
const (
	AgentDrug       = "drug"
	AgentLiterature = "literature"
	AgentGuideline  = "guideline"
	AgentGeneral    = "general"
)

// PlanEntry pairs an agent identifier with the sub-query it should run.
type PlanEntry struct {
	Agent string
	Query SubQuery
}

// DispatchPlan is the ordered, non-empty set of agents to invoke for one
// request. Merge order for citation numbering follows plan order, never
// completion order.
type DispatchPlan struct {
	Entries []PlanEntry
}

// GeneralPlan returns the single-entry fallback plan used when
// classification fails entirely. A plan is never empty by construction.
func GeneralPlan(utterance string) DispatchPlan {
	return DispatchPlan{Entries: []PlanEntry{
		{Agent: AgentGeneral, Query: GeneralQuery{Utterance: utterance}},
	}}
}

// --- Agent results ---

// AgentStatus describes the outcome of one agent invocation.
type AgentStatus string

const (
	StatusOK     AgentStatus = "ok"
	StatusEmpty  AgentStatus = "empty"
	StatusFailed AgentStatus = "failed"
)

// ErrorKind refines a failed agent result.
type ErrorKind string

const (
	ErrKindUpstream    ErrorKind = "upstream"
	ErrKindUnavailable ErrorKind = "unavailable"
	ErrKindTimeout     ErrorKind = "timeout"
)

// AgentResult is the output of one agent. Agents report failure through
// Status and ErrorKind; they never return Go errors to the dispatcher.
type AgentResult struct {
	Documents []Document
	Status    AgentStatus
	ErrorKind ErrorKind
}

// --- Final payload ---

// RetrievedDoc is the wire shape of one cited document in the final event.
// Metadata always contains the "source" key plus source-specific attributes
// (registration_number, pmid, document_id, url, ...).
type RetrievedDoc struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// FinalPayload is the payload of the terminal "final" stream event.
// Confidence is reserved and always null for now.
type FinalPayload struct {
	Type          string         `json:"type"`
	Answer        string         `json:"answer"`
	RetrievedDocs []RetrievedDoc `json:"retrieved_docs"`
	Confidence    *float64       `json:"confidence"`
	LatencyMs     int64          `json:"latency_ms"`
}

// Marshal renders the payload to its canonical JSON bytes. The gateway
// emits and caches these exact bytes, so a cache hit replays the original
// payload byte for byte.
func (p FinalPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Mode selects the cacheable (quick) or cache-bypassing (deep) pipeline.
const (
	ModeQuick = "quick"
	ModeDeep  = "deep"
)
