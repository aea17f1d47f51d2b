package notify

import (
	"encoding/json"
	"testing"
	"time"
)

func receive(t *testing.T, sub *Subscriber) Notification {
	t.Helper()
	select {
	case notif, ok := <-sub.C():
		if !ok {
			t.Fatal("channel closed")
		}
		return notif
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive notification within timeout")
	}
	return Notification{}
}

func expectNothing(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case notif := <-sub.C():
		t.Fatalf("received unexpected notification: %+v", notif)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifier_PublishNoSubscribers(t *testing.T) {
	n := NewNotifier(4)
	// Must neither panic nor block.
	n.Publish(Notification{Type: DatasetLoaded, DatasetID: "ds", Generation: 1})
}

func TestNotifier_SubscribeReceivesNotification(t *testing.T) {
	n := NewNotifier(4)
	sub := n.Subscribe()

	n.Publish(Notification{Type: DatasetLoaded, DatasetID: "ds", Generation: 3, Visible: 2, Total: 5})

	notif := receive(t, sub)
	if notif.DatasetID != "ds" || notif.Generation != 3 || notif.Visible != 2 || notif.Total != 5 {
		t.Errorf("unexpected notification %+v", notif)
	}
	if notif.Timestamp == 0 {
		t.Error("expected Publish to stamp the notification")
	}
}

func TestNotifier_TypeFilter(t *testing.T) {
	n := NewNotifier(4)
	loads := n.Subscribe(DatasetLoaded)
	all := n.Subscribe()

	n.Publish(Notification{Type: FilterChanged, DatasetID: "ds"})
	n.Publish(Notification{Type: DatasetLoaded, DatasetID: "ds2"})

	if got := receive(t, loads); got.Type != DatasetLoaded || got.DatasetID != "ds2" {
		t.Errorf("loads subscriber got %+v", got)
	}
	expectNothing(t, loads)

	if got := receive(t, all); got.Type != FilterChanged {
		t.Errorf("first notification = %v, want filter_changed", got.Type)
	}
	if got := receive(t, all); got.Type != DatasetLoaded {
		t.Errorf("second notification = %v, want dataset_loaded", got.Type)
	}
}

func TestNotifier_FullChannelDropsNotification(t *testing.T) {
	n := NewNotifier(1)
	sub := n.Subscribe()

	n.Publish(Notification{Type: DatasetLoaded, DatasetID: "first"})

	done := make(chan struct{})
	go func() {
		n.Publish(Notification{Type: DatasetLoaded, DatasetID: "second"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publish blocked when channel was full")
	}

	if got := receive(t, sub); got.DatasetID != "first" {
		t.Errorf("expected the buffered notification, got %q", got.DatasetID)
	}
	if n.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", n.Dropped())
	}
}

func TestNotifier_UnsubscribeClosesChannel(t *testing.T) {
	n := NewNotifier(4)
	sub := n.Subscribe()
	if n.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d", n.Subscribers())
	}

	n.Unsubscribe(sub.ID)
	n.Unsubscribe(sub.ID)
	n.Unsubscribe("sub_unknown")

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("channel should be closed after unsubscribe")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel was not closed within timeout")
	}
	if n.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d after unsubscribe", n.Subscribers())
	}

	// Publishing after unsubscribe must not send on the closed channel.
	n.Publish(Notification{Type: DatasetLoaded})
}

func TestType_Names(t *testing.T) {
	for _, typ := range []Type{DatasetLoaded, FilterChanged, SelectionChanged} {
		got, ok := ParseType(typ.String())
		if !ok || got != typ {
			t.Errorf("ParseType(%q) = %v, %v", typ.String(), got, ok)
		}
	}
	if _, ok := ParseType("compaction"); ok {
		t.Error("expected unknown name to fail")
	}
	if Type(42).String() != "unknown" {
		t.Errorf("out of range type = %q", Type(42).String())
	}

	data, err := json.Marshal(Notification{Type: FilterChanged})
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["type"] != "filter_changed" {
		t.Errorf("type encoded as %v", doc["type"])
	}
}
