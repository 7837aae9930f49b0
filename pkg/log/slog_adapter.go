package log

import (
	"context"
	"fmt"
	"log/slog"
)

// SlogAdapter renders protocol events through a slog.Logger at Debug
// level, for development consoles.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps a slog.Logger; nil selects slog.Default.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger}
}

// Log renders the event as a one-line debug record.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("dir", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	switch {
	case event.Packet != nil:
		p := event.Packet
		attrs = append(attrs,
			slog.Int("size", p.Size),
			slog.Int("src", int(p.Src)),
			slog.Int("dst", int(p.Dst)),
			slog.Int("tag", int(p.Tag)),
			slog.Bool("som", p.SOM),
			slog.Bool("eom", p.EOM),
		)
	case event.Message != nil:
		m := event.Message
		attrs = append(attrs,
			slog.String("type", fmt.Sprintf("0x%02x", m.MsgType)),
			slog.Int("src", int(m.Src)),
			slog.Int("dst", int(m.Dst)),
			slog.Int("tag", int(m.Tag)),
			slog.Int("size", m.Size),
		)
	case event.Control != nil:
		c := event.Control
		attrs = append(attrs,
			slog.String("command", fmt.Sprintf("0x%02x", c.Command)),
			slog.Bool("request", c.Request),
			slog.Int("iid", int(c.InstanceID)),
		)
		if c.Completion != nil {
			attrs = append(attrs, slog.String("completion", fmt.Sprintf("0x%02x", *c.Completion)))
		}
	case event.StateChange != nil:
		s := event.StateChange
		attrs = append(attrs,
			slog.String("entity", s.Entity.String()),
			slog.String("state", s.NewState),
		)
		if s.OldState != "" {
			attrs = append(attrs, slog.String("from", s.OldState))
		}
		if s.EID != 0 {
			attrs = append(attrs, slog.Int("eid", int(s.EID)))
		}
		if s.Reason != "" {
			attrs = append(attrs, slog.String("reason", s.Reason))
		}
	case event.Error != nil:
		e := event.Error
		attrs = append(attrs, slog.String("error", e.Message))
		if e.Context != "" {
			attrs = append(attrs, slog.String("context", e.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
