package events

import "testing"

func TestPublishDeliversToMatchingSubscribers(t *testing.T) {
	b := NewBus()
	sessions, cancelSessions := b.Subscribe("auth.sessions", 4)
	defer cancelSessions()
	all, cancelAll := b.Subscribe("*", 4)
	defer cancelAll()
	other, cancelOther := b.Subscribe("pool.query", 4)
	defer cancelOther()

	b.Publish("auth.sessions", Added, map[string]any{"id": "abc"})

	for name, ch := range map[string]<-chan Event{"sessions": sessions, "all": all} {
		select {
		case ev := <-ch:
			if ev.Kind != Added || ev.Collection != "auth.sessions" {
				t.Errorf("%s: unexpected event %+v", name, ev)
			}
		default:
			t.Errorf("%s: expected an event", name)
		}
	}
	select {
	case ev := <-other:
		t.Errorf("unrelated subscriber received %+v", ev)
	default:
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe("auth.sessions", 1)
	defer cancel()

	b.Publish("auth.sessions", Added, nil)
	b.Publish("auth.sessions", Removed, nil)

	if got := b.Dropped(); got != 1 {
		t.Errorf("expected 1 dropped event, got %d", got)
	}
}

func TestCancelClosesChannelOnce(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe("auth.sessions", 1)
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed")
	}
	b.Publish("auth.sessions", Added, nil)
	if b.Dropped() != 0 {
		t.Error("publishing after cancel should not count drops")
	}
}
