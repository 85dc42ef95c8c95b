package cell

import "testing"

func testConfig() Config {
	return Config{
		Seed:                 7,
		TotalSteps:           2000,
		InitialLength:        4,
		MotorCount:           40,
		TransportSpeed:       0.5,
		BindingOnRate:        0.05,
		BindingOffRate:       0.02,
		AvalancheEnabled:     true,
		AvalancheThreshold:   10,
		LengthModulation:     true,
		BuildStep:            0.00125,
		DecayStep:            0.0001,
		DiffusionCoefficient: 1.75,
		TimeStepDuration:     0.01,
		RecordMotorTraces:    true,
	}
}

func mustNew(t *testing.T, cfg Config) *Cell {
	t.Helper()
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func countBase(c *Cell) int {
	n := 0
	for _, m := range c.motors {
		if m.state == InBase {
			n++
		}
	}
	return n
}

// checkInvariants verifies the per-step guarantees against the live cell
// state right after step completed.
func checkInvariants(t *testing.T, c *Cell, step int) {
	t.Helper()
	rec := c.Record(step)
	if got := rec.Base + rec.Diffusing + rec.Active; got != c.MotorCount() {
		t.Fatalf("step %d: base+diffusing+active=%d want %d", step, got, c.MotorCount())
	}
	if rec.Base+c.CountInFlagellum() != c.MotorCount() {
		t.Fatalf("step %d: base=%d inFlagellum=%d total=%d", step, rec.Base, c.CountInFlagellum(), c.MotorCount())
	}
	if c.Length() < 0 || rec.Length < 0 {
		t.Fatalf("step %d: negative length live=%v recorded=%v", step, c.Length(), rec.Length)
	}
	for _, m := range c.motors {
		if m.pos < 0 || m.pos > c.Length() {
			t.Fatalf("step %d: motor %d position %v outside [0,%v]", step, m.id, m.pos, c.Length())
		}
		if m.state == InBase && m.pos != 0 {
			t.Fatalf("step %d: base motor %d at position %v", step, m.id, m.pos)
		}
	}
	if c.BufferLen() < step+1 {
		t.Fatalf("step %d: buffer len %d", step, c.BufferLen())
	}
}
