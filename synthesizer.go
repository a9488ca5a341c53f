package consilium

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Synthesizer merges per-agent documents into one globally numbered citation
// set and asks the ChatClient for prose that references those numbers. The
// merge order is dispatch-plan order, never completion order, so repeated
// runs of the same query number their citations identically.
type Synthesizer struct {
	chat   ChatClient
	terms  map[string]string // preferred-terminology substitutions
	logger *slog.Logger
	tracer Tracer
}

// SynthesizerOption configures a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithTerminology sets the preferred-term substitution table applied to the
// final prose. Pure string replacement; citation tokens are never touched.
func WithTerminology(terms map[string]string) SynthesizerOption {
	return func(s *Synthesizer) { s.terms = terms }
}

// WithSynthesizerLogger sets the structured logger.
func WithSynthesizerLogger(l *slog.Logger) SynthesizerOption {
	return func(s *Synthesizer) { s.logger = l }
}

// WithSynthesizerTracer sets the span tracer.
func WithSynthesizerTracer(t Tracer) SynthesizerOption {
	return func(s *Synthesizer) { s.tracer = t }
}

// NewSynthesizer creates a Synthesizer over the given ChatClient.
func NewSynthesizer(chat ChatClient, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{chat: chat, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Synthesize produces the final answer and the merged, renumbered document
// list. It emits synthesizer start/complete events on ch.
//
// When the plan is exactly the general agent, merging and generation are
// skipped: the answer is the agent's single document and no citations exist.
func (s *Synthesizer) Synthesize(ctx context.Context, messages []Message, plan DispatchPlan, outputs map[string]AgentResult, ch chan<- Event) (string, []Document, error) {
	emit(ctx, ch, Event{Kind: EventAgentStart, Agent: SynthesizerName})
	defer emit(ctx, ch, Event{Kind: EventAgentComplete, Agent: SynthesizerName})

	var span Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "synthesize")
		defer span.End()
	}

	// Single-agent short-circuit: a pure general answer carries no citations.
	if len(plan.Entries) == 1 && plan.Entries[0].Agent == AgentGeneral {
		res := outputs[AgentGeneral]
		if res.Status == StatusOK && len(res.Documents) > 0 {
			return res.Documents[0].Content, nil, nil
		}
	}

	merged := MergeDocuments(plan, outputs)
	question := lastUserMessage(messages)

	answer, err := s.chat.Generate(ctx, s.buildPrompt(question, merged))
	if err != nil {
		if span != nil {
			span.Error(err)
		}
		return "", nil, fmt.Errorf("synthesis generation: %w", err)
	}

	answer = repairCitations(answer, len(merged))
	answer = applyTerminology(answer, s.terms)
	if span != nil {
		span.SetAttr(IntAttr("citations.documents", len(merged)))
	}
	return answer, merged, nil
}

// MergeDocuments walks agent outputs in plan order and documents within each
// agent in provisional order, producing the globally renumbered list. The
// global index of a document is its position + 1; provisional indices do not
// survive the merge as citation numbers.
func MergeDocuments(plan DispatchPlan, outputs map[string]AgentResult) []Document {
	var merged []Document
	for _, entry := range plan.Entries {
		res, ok := outputs[entry.Agent]
		if !ok || res.Status != StatusOK {
			continue
		}
		docs := append([]Document(nil), res.Documents...)
		sort.SliceStable(docs, func(i, j int) bool {
			return docs[i].Provisional < docs[j].Provisional
		})
		merged = append(merged, docs...)
	}
	return merged
}

// lastUserMessage returns the most recent user turn, or "".
func lastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func (s *Synthesizer) buildPrompt(question string, merged []Document) string {
	var b strings.Builder
	b.WriteString("You are a clinical assistant. Answer the question concisely in the language of the question.\n\n")
	if len(merged) == 0 {
		b.WriteString("No sources are available. Answer from general knowledge, state the lack of sources, and do NOT use bracketed citations.\n\n")
	} else {
		b.WriteString("Base the answer ONLY on the numbered sources below. Reference them inline with their global number in square brackets, e.g. [1]. Use only the global numbers shown; the (agent, provisional) origin is informational.\n\nSources:\n")
		for i, d := range merged {
			origin := fmt.Sprintf("(agent=%s, provisional=%d)", d.Source, d.Provisional)
			fmt.Fprintf(&b, "[%d] %s %s\n", i+1, origin, d.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

// citationRe matches inline citation tokens like [3].
var citationRe = regexp.MustCompile(`\[(\d+)\]`)

// repairCitations enforces citation soundness on generated prose: tokens
// outside [1..n] are dropped with the surrounding text kept intact, and if
// the repair leaves a sourced answer with no citation at all, a
// deterministic [1] tail is appended to the final sentence.
func repairCitations(answer string, n int) string {
	anyValid := false
	dropped := false
	repaired := citationRe.ReplaceAllStringFunc(answer, func(tok string) string {
		k, err := strconv.Atoi(tok[1 : len(tok)-1])
		if err != nil || k < 1 || k > n {
			dropped = true
			return ""
		}
		anyValid = true
		return tok
	})
	if dropped {
		repaired = collapseSpaces(repaired)
	}
	if n >= 1 && !anyValid {
		repaired = appendReferenceTail(repaired)
	}
	return repaired
}

// appendReferenceTail places " [1]" at the end of the final sentence,
// keeping terminal punctuation terminal.
func appendReferenceTail(s string) string {
	t := strings.TrimRight(s, " \t\n")
	if t == "" {
		return "[1]"
	}
	switch t[len(t)-1] {
	case '.', '!', '?':
		return t[:len(t)-1] + " [1]" + t[len(t)-1:]
	}
	return t + " [1]"
}

// collapseSpaces tidies doubled spaces left behind by dropped tokens.
func collapseSpaces(s string) string {
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return strings.ReplaceAll(s, " .", ".")
}

// applyTerminology substitutes preferred terms in prose segments between
// citation tokens, so a substitution can never rewrite a [K] reference.
func applyTerminology(answer string, terms map[string]string) string {
	if len(terms) == 0 {
		return answer
	}
	// Deterministic substitution order.
	keys := make([]string, 0, len(terms))
	for k := range terms {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	locs := citationRe.FindAllStringIndex(answer, -1)
	var b strings.Builder
	prev := 0
	replaceSeg := func(seg string) string {
		for _, k := range keys {
			seg = strings.ReplaceAll(seg, k, terms[k])
		}
		return seg
	}
	for _, loc := range locs {
		b.WriteString(replaceSeg(answer[prev:loc[0]]))
		b.WriteString(answer[loc[0]:loc[1]])
		prev = loc[1]
	}
	b.WriteString(replaceSeg(answer[prev:]))
	return b.String()
}
