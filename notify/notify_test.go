package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text untouched", "profit 1,25 USD", "profit 1,25 USD"},
		{"Dots and dashes escaped", "R_100 -0.35", "R\\_100 \\-0\\.35"},
		{"Asterisks escaped", "*bold*", "\\*bold\\*"},
		{"Parens escaped", "won (x2)", "won \\(x2\\)"},
		{"Empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, escapeMarkdown(tt.input))
		})
	}
}

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Send(ctx context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestMultiSendsToAllBackends(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{err: errors.New("unreachable")}
	c := &recordingNotifier{}

	event := Event{Level: LevelInfo, Title: "settle", Message: "won +0.85"}
	err := Multi{a, b, c}.Send(context.Background(), event)

	assert.Error(t, err, "first backend failure should surface")
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
	assert.Len(t, c.events, 1, "failure in one backend must not skip the rest")
	assert.Equal(t, event, a.events[0])
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := NewLogNotifier()
	for _, level := range []Level{LevelInfo, LevelWarning, LevelCritical} {
		assert.NoError(t, n.Send(context.Background(), Event{Level: level, Title: "t", Message: "m"}))
	}
}
