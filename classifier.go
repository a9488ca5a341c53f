package consilium

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Keywords holds the routing token sets, one per category. Matching is
// case-insensitive, whole-token, and diacritic-insensitive; priority is
// drug > research > guideline, with the general agent as the default.
type Keywords struct {
	Drug      []string
	Research  []string
	Guideline []string
}

// DefaultKeywords returns the built-in Czech/English routing tokens.
// Deployments override these through configuration.
func DefaultKeywords() Keywords {
	return Keywords{
		Drug: []string{
			"lek", "leku", "leky", "kontraindikace", "davkovani", "davka",
			"interakce", "uhrada", "sukl", "pribalovy",
			"drug", "medication", "dosage", "contraindications",
		},
		Research: []string{
			"studie", "vyzkum", "publikace", "pubmed", "metaanalyza",
			"study", "studies", "trial", "research",
		},
		Guideline: []string{
			"doporucene", "doporuceni", "postupy", "postup", "standard",
			"guideline", "guidelines", "esc", "who",
		},
	}
}

// foldTransformer strips combining marks after NFD decomposition, so
// "dávkování" and "davkovani" compare equal.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldToken lower-cases a token and removes diacritics.
func foldToken(s string) string {
	out, _, err := transform.String(foldTransformer, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// tokenize splits an utterance into folded whole tokens. Anything that is
// not a letter or digit separates tokens, so punctuation never glues a
// keyword to its neighbors.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, foldToken(f))
	}
	return out
}

func matchesAny(tokens []string, keywords []string) bool {
	for _, kw := range keywords {
		folded := foldToken(kw)
		for _, t := range tokens {
			if t == folded {
				return true
			}
		}
	}
	return false
}

// KeywordRoute is the canonical deterministic routing rule and the single
// source of truth for keyword-based dispatch: the model tier falls back to
// this function, never to a reimplementation. lang is attached to research
// sub-queries so the literature agent knows the user's language.
func KeywordRoute(utterance string, kw Keywords, lang string) DispatchPlan {
	tokens := tokenize(utterance)
	switch {
	case matchesAny(tokens, kw.Drug):
		return DispatchPlan{Entries: []PlanEntry{
			{Agent: AgentDrug, Query: DrugQuery{Term: utterance}},
		}}
	case matchesAny(tokens, kw.Research):
		return DispatchPlan{Entries: []PlanEntry{
			{Agent: AgentLiterature, Query: ResearchQuery{Term: utterance, Lang: lang}},
		}}
	case matchesAny(tokens, kw.Guideline):
		return DispatchPlan{Entries: []PlanEntry{
			{Agent: AgentGuideline, Query: GuidelineQuery{Term: utterance}},
		}}
	default:
		return GeneralPlan(utterance)
	}
}

// --- Classifier ---

// DecisionLog records which tier produced a plan and why. Wired in tests
// and optionally in production for routing audits.
type DecisionLog func(tier, reason string)

// Classifier turns the user utterance into a DispatchPlan. Tier 1 asks the
// ChatClient for a structured plan; any rejection falls back to KeywordRoute.
// Classify never returns an empty plan.
type Classifier struct {
	chat     ChatClient
	agents   map[string]Agent
	keywords Keywords
	lang     string
	logger   *slog.Logger
	decide   DecisionLog
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithKeywords overrides the fallback keyword sets.
func WithKeywords(kw Keywords) ClassifierOption {
	return func(c *Classifier) { c.keywords = kw }
}

// WithUserLanguage sets the language tag attached to research sub-queries.
func WithUserLanguage(lang string) ClassifierOption {
	return func(c *Classifier) { c.lang = lang }
}

// WithDecisionLog sets the routing decision hook.
func WithDecisionLog(d DecisionLog) ClassifierOption {
	return func(c *Classifier) { c.decide = d }
}

// WithClassifierLogger sets the structured logger.
func WithClassifierLogger(l *slog.Logger) ClassifierOption {
	return func(c *Classifier) { c.logger = l }
}

// NewClassifier creates a Classifier. chat may be nil, in which case only
// the keyword tier runs. agents is the dispatch registry used to reject
// model plans that target unknown or unavailable agents.
func NewClassifier(chat ChatClient, agents map[string]Agent, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		chat:     chat,
		agents:   agents,
		keywords: DefaultKeywords(),
		lang:     "cs",
		logger:   nopLogger,
		decide:   func(string, string) {},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

const classifyPromptTemplate = `You are a router for a clinical question-answering service. Decide which retrieval agents should handle the question below.

Available agents:
- "drug": pharmaceutical registry (registered medicines, contraindications, dosage, interactions, reimbursement)
- "literature": biomedical literature search (studies, trials, publications)
- "guideline": clinical practice guidelines
- "general": direct answer without retrieval, for anything else

Return ONLY a JSON object of this exact shape:
{"intent":"<drug_info|research|guideline|general|mixed>","agents":[{"agent":"<id>","term":"<search term>","intent":"<optional drug intent>"}]}

Pick one or more agents. The term should be the key phrase to search for.

Question: %s`

// classification is the parsed tier-1 model output.
type classification struct {
	Intent string `json:"intent"`
	Agents []struct {
		Agent  string            `json:"agent"`
		Term   string            `json:"term"`
		Intent string            `json:"intent"`
		Filter map[string]string `json:"filters"`
	} `json:"agents"`
}

var knownIntents = map[string]bool{
	"drug_info": true, "research": true, "guideline": true,
	"general": true, "mixed": true,
}

// Classify produces the dispatch plan for one utterance. The model tier is
// rejected when its output does not parse, names an unknown intent or agent,
// targets an unavailable upstream, or is empty; in every case the keyword
// rule decides instead.
func (c *Classifier) Classify(ctx context.Context, utterance string) DispatchPlan {
	if c.chat != nil {
		if plan, err := c.modelPlan(ctx, utterance); err == nil {
			c.decide("model", "accepted")
			return plan
		} else {
			c.logger.Warn("model classification rejected, using keyword route", "error", err)
			c.decide("keyword", err.Error())
		}
	} else {
		c.decide("keyword", "no chat client")
	}
	return KeywordRoute(utterance, c.keywords, c.lang)
}

// modelPlan runs tier 1 and validates the result against the registry.
func (c *Classifier) modelPlan(ctx context.Context, utterance string) (DispatchPlan, error) {
	raw, err := c.chat.Classify(ctx, fmt.Sprintf(classifyPromptTemplate, utterance))
	if err != nil {
		return DispatchPlan{}, fmt.Errorf("classify call: %w", err)
	}
	var parsed classification
	if err := json.Unmarshal(extractJSON(raw), &parsed); err != nil {
		return DispatchPlan{}, fmt.Errorf("parse classification: %w", err)
	}
	if !knownIntents[parsed.Intent] {
		return DispatchPlan{}, fmt.Errorf("unknown intent %q", parsed.Intent)
	}
	if len(parsed.Agents) == 0 {
		return DispatchPlan{}, fmt.Errorf("empty agent list")
	}

	var plan DispatchPlan
	seen := make(map[string]bool)
	for _, a := range parsed.Agents {
		agent, ok := c.agents[a.Agent]
		if !ok {
			return DispatchPlan{}, fmt.Errorf("unknown agent %q", a.Agent)
		}
		if seen[a.Agent] {
			continue
		}
		seen[a.Agent] = true
		if a.Agent != AgentGeneral && agent.Health(ctx) == HealthUnavailable {
			return DispatchPlan{}, fmt.Errorf("agent %q unavailable", a.Agent)
		}
		term := a.Term
		if strings.TrimSpace(term) == "" {
			term = utterance
		}
		switch a.Agent {
		case AgentDrug:
			plan.Entries = append(plan.Entries, PlanEntry{Agent: AgentDrug, Query: DrugQuery{Term: term, Intent: a.Intent}})
		case AgentLiterature:
			plan.Entries = append(plan.Entries, PlanEntry{Agent: AgentLiterature, Query: ResearchQuery{Term: term, Filters: a.Filter, Lang: c.lang}})
		case AgentGuideline:
			plan.Entries = append(plan.Entries, PlanEntry{Agent: AgentGuideline, Query: GuidelineQuery{Term: term}})
		case AgentGeneral:
			plan.Entries = append(plan.Entries, PlanEntry{Agent: AgentGeneral, Query: GeneralQuery{Utterance: utterance}})
		}
	}
	if len(plan.Entries) == 0 {
		return DispatchPlan{}, fmt.Errorf("no usable agents in classification")
	}
	return plan, nil
}

// extractJSON finds the first JSON object in a model response, tolerating
// markdown code fences around it.
func extractJSON(raw json.RawMessage) []byte {
	s := strings.TrimSpace(string(raw))
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return []byte(s[start : end+1])
	}
	return []byte(s)
}
