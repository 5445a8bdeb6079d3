package realtime

import "testing"

func TestDispatcherRoutesByType(t *testing.T) {
	d := NewDispatcher(nil)
	var got []string
	d.Bind("response.created", func(evt Event) {
		got = append(got, "created:"+evt.(*ResponseCreatedEvent).ResponseID)
	})
	d.BindFallback(func(evt Event) {
		got = append(got, "fallback:"+evt.EventType())
	})

	d.Dispatch(&ResponseCreatedEvent{ResponseID: "r1"})
	d.Dispatch(&UnknownEvent{Type: "rate_limits.updated"})
	d.Dispatch(nil)

	want := []string{"created:r1", "fallback:rate_limits.updated"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("route %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDispatcherRejectsRebind(t *testing.T) {
	d := NewDispatcher(nil)
	if !d.Bind("error", func(Event) {}) {
		t.Fatal("first bind must succeed")
	}
	if d.Bind("error", func(Event) {}) {
		t.Fatal("rebinding a bound type must be rejected")
	}
	if d.Bind("error", nil) {
		t.Fatal("binding a nil handler must be rejected")
	}
}

func TestDispatcherTeardownDropsEverything(t *testing.T) {
	d := NewDispatcher(nil)
	calls := 0
	d.Bind("error", func(Event) { calls++ })

	d.Teardown()
	d.Dispatch(&ErrorEvent{Message: "late"})
	if calls != 0 {
		t.Fatal("events after teardown must be dropped")
	}

	if d.Bind("error", func(Event) { calls++ }) {
		t.Fatal("bind after teardown must be rejected")
	}
	d.Dispatch(&ErrorEvent{Message: "later"})
	if calls != 0 {
		t.Fatal("a torn table must stay torn")
	}
}
