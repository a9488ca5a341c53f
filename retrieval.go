package consilium

import "context"

// ToolStatus is the transport-level diagnostic attached to a ToolResult.
type ToolStatus string

const (
	// ToolOK means the call succeeded and returned at least one record.
	ToolOK ToolStatus = "ok"
	// ToolEmpty means the call succeeded but matched nothing.
	ToolEmpty ToolStatus = "empty"
	// ToolTransient means the call failed in a way worth retrying
	// (timeout, 429, 5xx, connection reset).
	ToolTransient ToolStatus = "transient"
	// ToolPermanent means retrying cannot help (bad params, 4xx, protocol error).
	ToolPermanent ToolStatus = "permanent"
)

// Record is one raw upstream record before it becomes a Document.
type Record struct {
	Content string
	Meta    map[string]string
}

// ToolResult is the outcome of a single RetrievalClient.CallTool invocation.
type ToolResult struct {
	Records []Record
	Status  ToolStatus
}

// Health is the coarse availability signal reported by a RetrievalClient.
type Health string

const (
	HealthAvailable   Health = "available"
	HealthDegraded    Health = "degraded"
	HealthUnavailable Health = "unavailable"
)

// RetrievalClient abstracts access to one upstream data source.
//
// Implementations must enforce a per-call deadline (default 30 s), bound
// response payloads (MaxToolPayload aggregate, MaxFieldBytes per text field,
// excess truncated), and be safe for concurrent use from multiple goroutines.
type RetrievalClient interface {
	// CallTool invokes a named tool on the upstream. Transport failures are
	// reported through ToolResult.Status; the error return is reserved for
	// context cancellation and programming errors (unknown tool).
	CallTool(ctx context.Context, name string, params map[string]string) (ToolResult, error)
	// HealthCheck probes the upstream. Must be cheap enough for /health.
	HealthCheck(ctx context.Context) Health
	// Close releases transport resources. Safe to call once.
	Close() error
}

// Payload bounds shared by all RetrievalClient implementations.
const (
	// MaxToolPayload caps the aggregate record content per tool call.
	MaxToolPayload = 1 << 20 // 1 MiB
	// MaxFieldBytes caps a single text field; longer fields are truncated.
	MaxFieldBytes = 100 << 10 // 100 KiB
)

// TruncateField bounds one text field to MaxFieldBytes, cutting on a rune
// boundary so truncation never produces invalid UTF-8.
func TruncateField(s string) string {
	if len(s) <= MaxFieldBytes {
		return s
	}
	cut := MaxFieldBytes
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

// BoundRecords applies both payload bounds to a record batch: each content
// field is truncated to MaxFieldBytes, and records past the MaxToolPayload
// aggregate are dropped. Never expands, never errors.
func BoundRecords(records []Record) []Record {
	var total int
	out := records[:0]
	for _, r := range records {
		r.Content = TruncateField(r.Content)
		if total+len(r.Content) > MaxToolPayload {
			break
		}
		total += len(r.Content)
		out = append(out, r)
	}
	return out
}
