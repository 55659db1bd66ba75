// Package notify delivers trade events to external channels. Engines and the
// sync manager publish settles, session stops and terminal errors here; a
// delivery failure is the receiver's problem, never the trading loop's.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Level is the severity of an event.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Event is one notification to be sent.
type Event struct {
	Level   Level  `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an event. Returns error if delivery fails.
	Send(ctx context.Context, event Event) error
}

// LogNotifier writes events to the process log. It is the fallback backend
// when no external channel is configured.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, event Event) error {
	switch event.Level {
	case LevelCritical:
		log.Error().Str("title", event.Title).Msg(event.Message)
	case LevelWarning:
		log.Warn().Str("title", event.Title).Msg(event.Message)
	default:
		log.Info().Str("title", event.Title).Msg(event.Message)
	}
	return nil
}

// Multi fans one event out to several backends. Every backend is attempted;
// the first failure is reported after the fan-out completes.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, event Event) error {
	var firstErr error
	for _, n := range m {
		if err := n.Send(ctx, event); err != nil {
			log.Warn().Err(err).Str("title", event.Title).Msg("notifier delivery failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
