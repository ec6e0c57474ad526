package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	b.Publish(Event{Kind: SessionStatusChanged, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != SessionStatusChanged {
			t.Errorf("got kind %q, want session.status_changed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	defer unsub()

	b.Emit(SessionConnected, nil)
	b.Emit(ChatCreated, nil)

	select {
	case evt := <-ch:
		if evt.Kind != ChatCreated {
			t.Errorf("got kind %q, want chat.created", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure session event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestChatsSyncedNotMatchedByChatNamespace guards the "chat." vs "chats."
// prefixes: a "chat." subscriber must not see chats.synced.
func TestChatsSyncedNotMatchedByChatNamespace(t *testing.T) {
	b := New()
	var got []Kind
	unsub := b.Handle("chat.", func(e Event) { got = append(got, e.Kind) })
	defer unsub()

	b.Emit(ChatsSynced, nil)
	b.Emit(ChatUpdated, nil)

	if len(got) != 1 || got[0] != ChatUpdated {
		t.Errorf("got %v, want [chat.updated]", got)
	}
}

func TestHandleIsSynchronousAndOrdered(t *testing.T) {
	b := New()
	var order []string
	b.Handle("", func(Event) { order = append(order, "first") })
	b.Handle("contact.", func(Event) { order = append(order, "second") })

	b.Emit(ContactSaved, nil)

	// No waiting: handlers must have run inside Publish.
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order = %v, want [first second]", order)
	}
}

func TestHandlerMayUnsubscribeItself(t *testing.T) {
	b := New()
	calls := 0
	var unsub func()
	unsub = b.Handle("message.", func(Event) {
		calls++
		unsub()
	})

	b.Emit(MessageReceived, nil)
	b.Emit(MessageReceived, nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()

	b.Emit(SessionStatusChanged, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("backup.", 1)
	defer unsub()

	b.Emit(BackupCreated, "one")
	// This should be dropped (non-blocking).
	b.Emit(BackupCreated, "two")

	evt := <-ch
	if evt.Payload != "one" {
		t.Errorf("got %v, want one", evt.Payload)
	}
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	b.Emit(SessionConnected, nil)
}
