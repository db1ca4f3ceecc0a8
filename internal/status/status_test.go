package status

import "testing"

func TestFromProviderState(t *testing.T) {
	cases := []struct {
		state  string
		want   Status
		wantOk bool
	}{
		{"INITIATED", Pending, true},
		{"QUEUED", Pending, true},
		{"PENDING_RISK_SCREENING", Pending, true},
		{"SENT", Pending, true},
		{"ACCELERATED", Pending, true},
		{"CONFIRMED", Confirmed, true},
		{"COMPLETE", Complete, true},
		{"FAILED", Failed, true},
		{"DENIED", Failed, true},
		{"CANCELLED", Failed, true},
		{"SOMETHING_NEW", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := FromProviderState(tc.state)
		if ok != tc.wantOk || got != tc.want {
			t.Errorf("FromProviderState(%q) = %q, %v; want %q, %v", tc.state, got, ok, tc.want, tc.wantOk)
		}
	}
}

func TestSupersedes(t *testing.T) {
	cases := []struct {
		current, next Status
		want          bool
	}{
		{Pending, Confirmed, true},
		{Pending, Complete, true},
		{Confirmed, Complete, true},
		{Confirmed, Pending, false},
		{Complete, Confirmed, false},
		{Complete, Complete, false},
		{Pending, Pending, false},
		// FAILED replaces anything not already failed.
		{Pending, Failed, true},
		{Confirmed, Failed, true},
		{Complete, Failed, true},
		// Nothing resurrects a failed record.
		{Failed, Pending, false},
		{Failed, Confirmed, false},
		{Failed, Complete, false},
		{Failed, Failed, false},
	}
	for _, tc := range cases {
		if got := Supersedes(tc.current, tc.next); got != tc.want {
			t.Errorf("Supersedes(%s, %s) = %v, want %v", tc.current, tc.next, got, tc.want)
		}
	}
}

func TestSuccess(t *testing.T) {
	if Pending.Success() || Failed.Success() {
		t.Error("PENDING and FAILED are not success states")
	}
	if !Confirmed.Success() || !Complete.Success() {
		t.Error("CONFIRMED and COMPLETE are success states")
	}
}
