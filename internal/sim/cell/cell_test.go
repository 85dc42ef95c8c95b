package cell

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"testing"
)

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"on rate above one":   func(c *Config) { c.BindingOnRate = 1.5 },
		"negative off rate":   func(c *Config) { c.BindingOffRate = -0.1 },
		"zero steps":          func(c *Config) { c.TotalSteps = 0 },
		"no motors":           func(c *Config) { c.MotorCount = 0 },
		"negative dt":         func(c *Config) { c.TimeStepDuration = -1 },
		"nan decay":           func(c *Config) { c.DecayStep = math.NaN() },
		"negative threshold":  func(c *Config) { c.AvalancheThreshold = -1 },
		"negative length":     func(c *Config) { c.InitialLength = -2 },
		"single density pt":   func(c *Config) { c.DensityPoints = 1 },
		"fit window too tiny": func(c *Config) { c.SteadyFitSeconds = 0.01 },
	}
	for name, mutate := range cases {
		cfg := testConfig()
		mutate(&cfg)
		if _, err := New(cfg, nil); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: err=%v want ErrInvalidConfig", name, err)
		}
	}
}

func TestNew_AllMotorsStartInBase(t *testing.T) {
	c := mustNew(t, testConfig())
	if c.CurrentStep() != -1 {
		t.Fatalf("current=%d want -1", c.CurrentStep())
	}
	if countBase(c) != c.MotorCount() || c.CountInFlagellum() != 0 {
		t.Fatalf("base=%d inFlagellum=%d", countBase(c), c.CountInFlagellum())
	}
	for i, m := range c.Motors() {
		if m.ID() != i || m.Position() != 0 || m.State() != InBase {
			t.Fatalf("motor %d: %v", i, m)
		}
	}
	if c.Length() != 4 {
		t.Fatalf("length=%v want 4", c.Length())
	}
}

func TestStep_InvariantsHoldEveryStep(t *testing.T) {
	c := mustNew(t, testConfig())
	thr := c.Config().AvalancheThreshold
	for step := 0; step < c.Config().TotalSteps; step++ {
		before := countBase(c)
		c.step()
		checkInvariants(t, c, step)

		released := c.Record(step).Avalanche
		if released < 0 || released > before {
			t.Fatalf("step %d: released %d with %d in base", step, released, before)
		}
		if before <= thr && released != 0 {
			t.Fatalf("step %d: released %d at or below threshold (base=%d)", step, released, before)
		}
		if before > thr && released < 1 {
			t.Fatalf("step %d: base %d above threshold released nothing", step, before)
		}
	}
}

func TestStep_FixedLengthKeepsMotorsOnFilament(t *testing.T) {
	cfg := testConfig()
	cfg.LengthModulation = false
	cfg.InitialLength = 5
	cfg.BuildStep = 0
	cfg.AvalancheThreshold = 0
	cfg.BindingOnRate = 0.2
	cfg.BindingOffRate = 0.2
	c := mustNew(t, cfg)
	for step := 0; step < cfg.TotalSteps; step++ {
		c.step()
		checkInvariants(t, c, step)
		if got := c.Record(step).Length; got != 5 {
			t.Fatalf("step %d: length=%v want 5", step, got)
		}
	}
}

func TestInject_ReleasesInCreationOrder(t *testing.T) {
	cfg := testConfig()
	cfg.MotorCount = 10
	cfg.AvalancheThreshold = 5
	cfg.InitialLength = 10
	cfg.TransportSpeed = 1
	cfg.BindingOnRate = 0
	cfg.BindingOffRate = 0
	c := mustNew(t, cfg)
	c.Simulate(1)

	released := c.Record(0).Avalanche
	if released < 1 || released > 10 {
		t.Fatalf("released=%d want in [1,10]", released)
	}
	for i, m := range c.Motors() {
		if m.InFlagellum() != (i < released) {
			t.Fatalf("motor %d inFlagellum=%v with %d released", i, m.InFlagellum(), released)
		}
	}
	if c.Record(0).Active != released {
		t.Fatalf("active=%d want %d", c.Record(0).Active, released)
	}
}

func TestSimulate_SameSeedIsReproducible(t *testing.T) {
	a := mustNew(t, testConfig())
	b := mustNew(t, testConfig())
	a.Simulate(1500)
	b.Simulate(1500)

	if !slices.Equal(a.LengthTrace(), b.LengthTrace()) {
		t.Fatalf("length traces differ")
	}
	if !slices.Equal(a.AvalancheTrace(), b.AvalancheTrace()) || !slices.Equal(a.BaseTrace(), b.BaseTrace()) {
		t.Fatalf("aggregate traces differ")
	}
	for i := range a.Motors() {
		ma, mb := a.Motors()[i], b.Motors()[i]
		if !slices.Equal(ma.posTrace.Values(), mb.posTrace.Values()) {
			t.Fatalf("motor %d position traces differ", i)
		}
	}
}

func TestNew_InjectedSourceDrivesRun(t *testing.T) {
	cfg := testConfig()
	a, err := New(cfg, rand.NewPCG(11, 12))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(cfg, rand.NewPCG(11, 12))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Simulate(500)
	b.Simulate(500)
	if !slices.Equal(a.LengthTrace(), b.LengthTrace()) {
		t.Fatalf("same source produced different runs")
	}
}

func TestExtend_ContinuesWithoutRecomputingHistory(t *testing.T) {
	cfg := testConfig()
	cfg.TotalSteps = 300
	c := mustNew(t, cfg)
	c.Simulate(cfg.TotalSteps)
	prefix := slices.Clone(c.LengthTrace())
	motor0 := slices.Clone(c.Motors()[0].posTrace.Values())

	c.Extend(200)
	if c.BufferLen() != 499 || c.CurrentStep() != 498 || c.Extensions() != 1 {
		t.Fatalf("len=%d current=%d extensions=%d", c.BufferLen(), c.CurrentStep(), c.Extensions())
	}
	if !slices.Equal(c.LengthTrace()[:300], prefix) {
		t.Fatalf("history changed by Extend")
	}
	if !slices.Equal(c.Motors()[0].posTrace.Values()[:300], motor0) {
		t.Fatalf("motor history changed by Extend")
	}

	// A straight run of the same total length draws the same random stream.
	cfg.TotalSteps = 499
	straight := mustNew(t, cfg)
	straight.Simulate(499)
	if !slices.Equal(straight.LengthTrace(), c.LengthTrace()) {
		t.Fatalf("extended run diverged from a straight run")
	}
}

func TestExtend_IgnoresShortRequests(t *testing.T) {
	cfg := testConfig()
	cfg.TotalSteps = 50
	c := mustNew(t, cfg)
	c.Simulate(50)
	c.Extend(1)
	c.Extend(0)
	if c.BufferLen() != 50 || c.CurrentStep() != 49 || c.Extensions() != 0 {
		t.Fatalf("len=%d current=%d extensions=%d", c.BufferLen(), c.CurrentStep(), c.Extensions())
	}
}

func TestStep_ManualLengthOverrideAppliesOnce(t *testing.T) {
	cfg := testConfig()
	cfg.TotalSteps = 10
	cfg.InitialLength = 2
	cfg.DecayStep = 0
	cfg.AvalancheEnabled = false
	cfg.ManualLengthMultiplier = 3
	c := mustNew(t, cfg)
	c.Simulate(10)
	for i, got := range c.LengthTrace() {
		want := 2.0
		if i >= 5 {
			want = 6
		}
		if got != want {
			t.Fatalf("step %d: length=%v want %v", i, got, want)
		}
	}
}

type collectSink struct {
	recs []StepRecord
	err  error
}

func (s *collectSink) WriteStep(r StepRecord) error {
	s.recs = append(s.recs, r)
	return s.err
}

func TestAddSink_ReceivesEveryRecord(t *testing.T) {
	cfg := testConfig()
	cfg.TotalSteps = 200
	c := mustNew(t, cfg)
	sink := &collectSink{}
	c.AddSink(sink)
	c.AddSink(nil)
	c.Simulate(200)
	if len(sink.recs) != 200 {
		t.Fatalf("records=%d want 200", len(sink.recs))
	}
	for i, r := range sink.recs {
		if r != c.Record(i) {
			t.Fatalf("record %d: sink=%+v buffer=%+v", i, r, c.Record(i))
		}
	}
}

func TestRun_ReportsSinkError(t *testing.T) {
	cfg := testConfig()
	cfg.TotalSteps = 20
	c := mustNew(t, cfg)
	boom := errors.New("disk full")
	sink := &collectSink{err: boom}
	c.AddSink(sink)
	if _, err := c.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Run err=%v want %v", err, boom)
	}
	if len(sink.recs) != 20 {
		t.Fatalf("sink stopped receiving records after an error: %d", len(sink.recs))
	}
}

func TestMetrics(t *testing.T) {
	c := mustNew(t, testConfig())
	if m := c.Metrics(); m.Step != -1 || m.Base != 0 {
		t.Fatalf("fresh metrics=%+v", m)
	}
	c.Simulate(100)
	m := c.Metrics()
	if m.Step != 99 || m.Base+m.Diffusing+m.Active != c.MotorCount() || m.Length != c.Length() {
		t.Fatalf("metrics=%+v", m)
	}
	var nilCell *Cell
	if nilCell.Metrics() != (Metrics{}) {
		t.Fatalf("nil cell metrics should be zero")
	}
}

func TestDistribution_ReturnsDiffusingPositions(t *testing.T) {
	cfg := testConfig()
	cfg.DensityWindow = 500
	cfg.DensityPoints = 50
	c := mustNew(t, cfg)
	c.Simulate(cfg.TotalSteps)

	last := c.CurrentStep()
	if got, want := len(c.Distribution(last)), c.Record(last).Diffusing; got != want {
		t.Fatalf("distribution size=%d want %d", got, want)
	}
	if c.Distribution(last+1) != nil || c.Distribution(-1) != nil {
		t.Fatalf("out of range steps should be nil")
	}

	grid, density, err := c.DensityEstimate(c.Length())
	if err != nil {
		t.Fatalf("DensityEstimate: %v", err)
	}
	if len(grid) != 50 || len(density) != 50 {
		t.Fatalf("grid=%d density=%d want 50", len(grid), len(density))
	}
	if grid[0] != 0 || math.Abs(grid[49]-c.Length()) > 1e-9 {
		t.Fatalf("grid spans [%v,%v]", grid[0], grid[49])
	}
	for i, d := range density {
		if d < 0 || math.IsNaN(d) {
			t.Fatalf("density[%d]=%v", i, d)
		}
	}
}

func TestDensityEstimate_NeedsTraces(t *testing.T) {
	cfg := testConfig()
	cfg.RecordMotorTraces = false
	c := mustNew(t, cfg)
	c.Simulate(10)
	if _, _, err := c.DensityEstimate(1); err == nil {
		t.Fatalf("expected error without motor traces")
	}
}

func TestPredictedLength(t *testing.T) {
	cfg := Config{
		MotorCount:           200,
		AvalancheThreshold:   30,
		BuildStep:            0.00125,
		DecayStep:            0.0001,
		DiffusionCoefficient: 1.75,
		TimeStepDuration:     0.01,
	}
	got, err := PredictedLength(cfg)
	if err != nil {
		t.Fatalf("PredictedLength: %v", err)
	}
	if want := math.Sqrt(74.375); math.Abs(got-want) > 1e-9 {
		t.Fatalf("predicted=%v want %v", got, want)
	}

	noDecay := cfg
	noDecay.DecayStep = 0
	if _, err := PredictedLength(noDecay); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("zero decay: err=%v", err)
	}
	saturated := cfg
	saturated.AvalancheThreshold = 200
	if _, err := PredictedLength(saturated); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("threshold >= motors: err=%v", err)
	}
}

func TestStateString(t *testing.T) {
	if InBase.String() != "IN_BASE" || Diffusing.String() != "DIFFUSING" || ActiveTransport.String() != "ACTIVE_TRANSPORT" {
		t.Fatalf("unexpected state names")
	}
	if State(9).String() != "State(9)" {
		t.Fatalf("unknown state=%q", State(9).String())
	}
}

func TestNew_ZeroSelectsDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.FluxBoundary, cfg.SteadyEps, cfg.MaxExtensions = 0, 0, 0
	got := mustNew(t, cfg).Config()
	if got.FluxBoundary != 1 || got.SteadyEps != 5e-6 || got.MaxExtensions != 200 {
		t.Fatalf("defaults not applied: flux_boundary=%v steady_eps=%v max_extensions=%d",
			got.FluxBoundary, got.SteadyEps, got.MaxExtensions)
	}
}

func TestDiffuseFixedLength_TipStepsBackAfterDiscardedRoll(t *testing.T) {
	cfg := testConfig()
	cfg.LengthModulation = false
	cfg.InitialLength = 5
	cfg.BindingOnRate = 1
	c := mustNew(t, cfg)

	m := c.motors[0]
	m.state, m.pos = Diffusing, 5
	m.update()
	if want := 5 - c.rms; m.pos != want {
		t.Fatalf("pos=%v want %v: a motor at the tip must retreat", m.pos, want)
	}
	// The regular binding roll still follows the move.
	if m.state != ActiveTransport {
		t.Fatalf("state=%v want ACTIVE_TRANSPORT", m.state)
	}

	twin := mustNew(t, cfg)
	tm := twin.motors[0]
	tm.state, tm.pos = Diffusing, 5
	_ = twin.rng.Float64()
	_ = twin.rng.Float64()
	if c.rng.Float64() != twin.rng.Float64() {
		t.Fatalf("tip diffusion should consume exactly two draws (discarded roll + binding roll)")
	}
}
