package chatrelay

import (
	"errors"
	"testing"
	"time"
)

func minutes(v int) *int { return &v }

func TestScheduleOpenAt(t *testing.T) {
	// 2026-08-31 is a Monday, 2026-08-30 a Sunday.
	monday := func(hour, minute int) time.Time {
		return time.Date(2026, 8, 31, hour, minute, 0, 0, time.UTC)
	}
	sunday := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	bounded := WeekSchedule{1: {Open: minutes(540), Close: minutes(1020)}}
	openEnded := WeekSchedule{1: {Open: minutes(540)}}
	closeOnly := WeekSchedule{1: {Close: minutes(1020)}}

	cases := []struct {
		name     string
		schedule WeekSchedule
		at       time.Time
		want     bool
	}{
		{"inside hours", bounded, monday(10, 0), true},
		{"open boundary is inclusive", bounded, monday(9, 0), true},
		{"before opening", bounded, monday(8, 59), false},
		{"close boundary is exclusive", bounded, monday(17, 0), false},
		{"just before close", bounded, monday(16, 59), true},
		{"open ended evening", openEnded, monday(23, 59), true},
		{"open ended before opening", openEnded, monday(8, 0), false},
		{"close only at midnight", closeOnly, monday(0, 0), true},
		{"close only after close", closeOnly, monday(17, 0), false},
		{"missing day", bounded, sunday, false},
		{"day with no bounds", WeekSchedule{1: {}}, monday(10, 0), false},
		{"sunday is day seven", WeekSchedule{7: {Open: minutes(0), Close: minutes(1440)}}, sunday, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := scheduleOpenAt(tc.schedule, tc.at); got != tc.want {
				t.Fatalf("scheduleOpenAt(%v) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestAvailabilityRequiresStaff(t *testing.T) {
	e, hub := newTestEngine(t, newFakeStore())
	visitor := connect(t, hub, "visitor-1")

	// Schedule says open, but nobody is signed in.
	e.finishStatus("", true)
	if e.openStatus {
		t.Fatal("went open without staff coverage")
	}
	if len(visitor.openStatuses()) != 0 {
		t.Fatal("unchanged status was broadcast")
	}

	staff := subscribeStaff(t, e, hub, "staff-1")
	e.finishStatus("", true)
	if !e.openStatus {
		t.Fatal("stayed closed with staff present and schedule open")
	}
	if got := visitor.openStatuses(); len(got) != 1 || !got[0].Open {
		t.Fatalf("expected one open broadcast to everyone, got %+v", got)
	}
	if got := staff.openStatuses(); len(got) != 1 {
		t.Fatalf("expected the broadcast to reach staff too, got %d", len(got))
	}

	// Same verdict again is silent.
	e.finishStatus("", true)
	if got := len(visitor.openStatuses()); got != 1 {
		t.Fatalf("unchanged status was rebroadcast: %d messages", got)
	}

	// Staff leaving closes the service even though the schedule stays open.
	hub.RemoveClientFromChannel("staff-1", AdminChannel)
	e.finishStatus("", true)
	if e.openStatus {
		t.Fatal("stayed open with no staff left")
	}
	got := visitor.openStatuses()
	if len(got) != 2 || got[1].Open || !got[1].ScheduleOpen {
		t.Fatalf("expected a closed broadcast with schedule still open, got %+v", got)
	}
}

func TestStatusRequestAlwaysAnswered(t *testing.T) {
	e, hub := newTestEngine(t, newFakeStore())
	visitor := connect(t, hub, "visitor-1")

	e.finishStatus("visitor-1", true)
	e.finishStatus("visitor-1", true)

	got := visitor.openStatuses()
	if len(got) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(got))
	}
	// No staff signed in, so the effective status is closed while the raw
	// schedule verdict still comes through.
	if got[0].Open || !got[0].ScheduleOpen {
		t.Fatalf("unexpected reply: %+v", got[0])
	}
}

func TestChatStatusRoundTrip(t *testing.T) {
	store := newFakeStore()
	store.schedule = WeekSchedule{
		1: {Open: minutes(0), Close: minutes(1440)},
		2: {Open: minutes(0), Close: minutes(1440)},
		3: {Open: minutes(0), Close: minutes(1440)},
		4: {Open: minutes(0), Close: minutes(1440)},
		5: {Open: minutes(0), Close: minutes(1440)},
		6: {Open: minutes(0), Close: minutes(1440)},
		7: {Open: minutes(0), Close: minutes(1440)},
	}
	e, hub := newTestEngine(t, store)
	visitor := connect(t, hub, "visitor-1")

	deliver(t, e, "visitor-1", &Envelope{Type: TypeChat, Action: ActionChatStatus})
	eventually(t, e, func() bool {
		return len(visitor.openStatuses()) == 1
	})

	got := visitor.openStatuses()[0]
	if !got.ScheduleOpen {
		t.Fatalf("expected schedule_open with an always-open schedule, got %+v", got)
	}
}

func TestScheduleLookupFailureClosesService(t *testing.T) {
	store := newFakeStore()
	store.scheduleErr = errors.New("database unavailable")
	e, hub := newTestEngine(t, store)
	subscribeStaff(t, e, hub, "staff-1")

	e.openStatus = true
	e.computeAvailability()
	eventually(t, e, func() bool {
		return !e.openStatus
	})
}
