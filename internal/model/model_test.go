package model

import "testing"

func TestValidStance(t *testing.T) {
	for _, s := range Stances {
		if !ValidStance(s) {
			t.Errorf("ValidStance(%q) = false", s)
		}
	}
	for _, s := range []string{"align", "YES", "", "ALIGN "} {
		if ValidStance(s) {
			t.Errorf("ValidStance(%q) = true", s)
		}
	}
}

func TestStanceCounts(t *testing.T) {
	var c StanceCounts
	c.Inc(StanceAlign)
	c.Inc(StanceAlign)
	c.Inc(StanceReject)
	c.Inc("bogus")
	if c.Get(StanceAlign) != 2 || c.Get(StanceReject) != 1 || c.Get(StanceWithhold) != 0 {
		t.Errorf("counts = %+v", c)
	}
	if c.Total() != 3 {
		t.Errorf("total = %d", c.Total())
	}
}

func TestComputeIntegrity(t *testing.T) {
	tests := []struct {
		name string
		c    StanceCounts
		want string
	}{
		{"silence", StanceCounts{}, "LOW"},
		{"withhold only", StanceCounts{Withhold: 9}, "LOW"},
		{"align lead", StanceCounts{Align: 5, Reject: 3}, "HIGH"},
		{"reject lead", StanceCounts{Align: 1, Reject: 3}, "LOW"},
		{"contested", StanceCounts{Align: 4, Reject: 3}, "MED"},
		{"tie", StanceCounts{Align: 2, Reject: 2}, "MED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeIntegrity(tt.c); got != tt.want {
				t.Errorf("ComputeIntegrity(%+v) = %q, want %q", tt.c, got, tt.want)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	if got := CycleKey("c1"); got != "cycles/c1" {
		t.Errorf("CycleKey = %q", got)
	}
	if got := StanceKey("c1", "actor"); got != "stances/c1_actor" {
		t.Errorf("StanceKey = %q", got)
	}
	if got := LockKey("w_abc"); got != "locks/cycle_w_abc" {
		t.Errorf("LockKey = %q", got)
	}
	if got := EventKey(1234, "ffff"); got != "events/0000000001234_ffff" {
		t.Errorf("EventKey = %q", got)
	}
}
