package panelauth

import (
	"io"
	"log/slog"

	"github.com/MrEthical07/panelAuth/internal/audit"
)

// AuditEvent is one security-relevant engine outcome. See
// Builder.WithAuditSink.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
// Emit must be safe for concurrent use if the sink is shared.
type AuditSink = audit.Sink

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	SlogSink       = audit.SlogSink
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogSink logs audit events through logger; nil uses slog.Default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return audit.NewSlogSink(logger)
}
