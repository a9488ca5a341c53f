// Package consilium is a clinical consultation gateway: it accepts a single
// natural-language question, routes it through a classifier to a set of
// specialized retrieval agents running in parallel, merges their citations
// into one globally numbered set, and streams lifecycle events plus the
// synthesized answer to the caller over SSE.
//
// The package holds the orchestration engine and its ports (ChatClient,
// RetrievalClient, Cache). Concrete adapters live in client/ and cache/,
// OTEL instrumentation in observer/, and application wiring in internal/app.
package consilium
