package sizing

import "testing"

func TestDailyLossGuardDisabledWhenLimitZero(t *testing.T) {
	g := NewDailyLossGuard(0)
	g.Record(-1_000_000)
	if g.Tripped() {
		t.Error("Tripped() = true with limit 0, want always false")
	}
}

func TestDailyLossGuardTripsAtLimit(t *testing.T) {
	g := NewDailyLossGuard(100)
	g.Record(-60)
	if g.Tripped() {
		t.Fatal("Tripped() = true before reaching limit")
	}
	g.Record(-40)
	if !g.Tripped() {
		t.Error("Tripped() = false at exactly the limit, want true")
	}
}

func TestDailyLossGuardIgnoresGains(t *testing.T) {
	g := NewDailyLossGuard(100)
	g.Record(500)
	if g.Tripped() {
		t.Error("Tripped() = true after only gains")
	}
}
