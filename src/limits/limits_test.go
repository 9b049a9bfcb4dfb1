package limits

import "testing"

func TestTakenGiven(t *testing.T) {
	var s Sysatomic_t
	s.Given(4)
	if !s.Taken(4) {
		t.Fatal("expected Taken(4) to succeed with 4 given")
	}
	if s.Taken(1) {
		t.Fatal("expected Taken(1) to fail once the limit is exhausted")
	}
	s.Give()
	if !s.Take() {
		t.Fatal("expected Take() to succeed after Give()")
	}
}
