package web

import (
	"encoding/json"
	"testing"
)

func TestHub_PublishSubscribe(t *testing.T) {
	h := NewHub(2)
	ch, unsubscribe := h.Subscribe()

	h.Publish(EventUsageRefresh, nil)
	h.Publish(EventPrefsChanged, map[string]bool{"autostart": true})

	ev := <-ch
	if ev.Name != EventUsageRefresh || ev.Data != nil {
		t.Errorf("first event = %+v", ev)
	}
	ev = <-ch
	var data map[string]bool
	if err := json.Unmarshal(ev.Data, &data); err != nil || !data["autostart"] {
		t.Errorf("second event = %+v (%v)", ev, err)
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	if h.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d", h.Subscribers())
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(1)
	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	for range 10 {
		h.Publish("tick", nil)
	}
	if len(ch) != 1 {
		t.Errorf("buffered = %d, want 1", len(ch))
	}
}
