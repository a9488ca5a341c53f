package consilium

import (
	"context"
	"log/slog"
)

// discardHandler is a slog.Handler that drops every record.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// nopLogger discards all output. Used wherever a logger option is not set,
// so components never nil-check their logger.
var nopLogger = slog.New(discardHandler{})
