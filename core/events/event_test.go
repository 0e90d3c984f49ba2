package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"multisender/core/types"
)

type plainEvent string

func (p plainEvent) EventType() string { return string(p) }

type richEvent struct{ value string }

func (richEvent) EventType() string { return "rich" }

func (r richEvent) Event() *types.Event {
	return &types.Event{Type: "rich", Attributes: map[string]string{"value": r.value}}
}

func TestCanonical(t *testing.T) {
	require.Nil(t, Canonical(nil))
	require.Equal(t, "plain", Canonical(plainEvent("plain")).Type)
	payload := Canonical(richEvent{value: "x"})
	require.Equal(t, "x", payload.Attr("value"))
}

func TestRecorderLimit(t *testing.T) {
	rec := NewRecorder(2)
	rec.Emit(richEvent{value: "1"})
	rec.Emit(richEvent{value: "2"})
	rec.Emit(plainEvent("other"))

	events := rec.Events()
	require.Len(t, events, 2)
	require.Equal(t, "2", events[0].Attr("value"))
	require.Equal(t, "other", events[1].Type)
	require.Len(t, rec.OfType("rich"), 1)

	rec.Reset()
	require.Empty(t, rec.Events())
}

func TestMultiEmitter(t *testing.T) {
	var seen []string
	first := NewRecorder(0)
	multi := MultiEmitter{first, nil, NoopEmitter{}, EmitterFunc(func(evt Event) {
		seen = append(seen, evt.EventType())
	})}
	multi.Emit(plainEvent("a"))
	multi.Emit(plainEvent("b"))
	require.Equal(t, []string{"a", "b"}, seen)
	require.Len(t, first.Events(), 2)
}
