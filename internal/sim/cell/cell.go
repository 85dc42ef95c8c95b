// Package cell runs the agent-based filament model: a Cell owns the filament
// length, a fixed population of motors and the per-step recording buffers.
package cell

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"iftsim.dev/internal/sim/series"
)

// StepRecord is the aggregate state recorded at the end of a step.
type StepRecord struct {
	Step      int     `json:"step"`
	Length    float64 `json:"length"`
	Flux      int     `json:"flux"`
	Base      int     `json:"base"`
	Diffusing int     `json:"diffusing"`
	Active    int     `json:"active"`
	Avalanche int     `json:"avalanche"`
}

// StepSink receives one record per simulated step.
type StepSink interface {
	WriteStep(StepRecord) error
}

type Cell struct {
	cfg Config

	length float64
	motors []*Motor

	src     rand.Source
	rng     *rand.Rand
	weibull distuv.Weibull
	rms     float64

	hogStep int
	hogDone bool

	// current is the last completed step (-1 before the first step).
	current    int
	extensions int

	lengthTrace *series.Series[float64]
	flux        *series.Series[int]
	base        *series.Series[int]
	diffusing   *series.Series[int]
	active      *series.Series[int]
	avalanche   *series.Series[int]

	sinks   []StepSink
	sinkErr error
	log     *slog.Logger
}

// New builds a cell with cfg.MotorCount motors resident in the base. src is
// the only source of randomness for the run; nil seeds a PCG from cfg.Seed.
func New(cfg Config, src rand.Source) (*Cell, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if src == nil {
		src = rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)^0x9e3779b97f4a7c15)
	}

	c := &Cell{
		cfg:         cfg,
		length:      cfg.InitialLength,
		src:         src,
		rng:         rand.New(src),
		weibull:     distuv.Weibull{K: cfg.AvalancheShape, Lambda: 1, Src: src},
		rms:         cfg.RMSDisplacement(),
		hogStep:     cfg.TotalSteps / 2,
		current:     -1,
		lengthTrace: series.New[float64](cfg.TotalSteps),
		flux:        series.New[int](cfg.TotalSteps),
		base:        series.New[int](cfg.TotalSteps),
		diffusing:   series.New[int](cfg.TotalSteps),
		active:      series.New[int](cfg.TotalSteps),
		avalanche:   series.New[int](cfg.TotalSteps),
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	c.motors = make([]*Motor, cfg.MotorCount)
	for i := range c.motors {
		c.motors[i] = newMotor(i, c, cfg.TotalSteps)
	}
	return c, nil
}

func (c *Cell) AddSink(s StepSink) {
	if s != nil {
		c.sinks = append(c.sinks, s)
	}
}

func (c *Cell) SetLogger(l *slog.Logger) {
	if l != nil {
		c.log = l
	}
}

func (c *Cell) Config() Config         { return c.cfg }
func (c *Cell) Length() float64        { return c.length }
func (c *Cell) MotorCount() int        { return len(c.motors) }
func (c *Cell) Motors() []*Motor       { return c.motors }
func (c *Cell) CurrentStep() int       { return c.current }
func (c *Cell) Extensions() int        { return c.extensions }
func (c *Cell) BufferLen() int         { return c.lengthTrace.Len() }
func (c *Cell) SinkErr() error         { return c.sinkErr }
func (c *Cell) LengthTrace() []float64 { return c.lengthTrace.Values() }
func (c *Cell) FluxTrace() []int       { return c.flux.Values() }
func (c *Cell) BaseTrace() []int       { return c.base.Values() }
func (c *Cell) DiffusingTrace() []int  { return c.diffusing.Values() }
func (c *Cell) ActiveTrace() []int     { return c.active.Values() }
func (c *Cell) AvalancheTrace() []int  { return c.avalanche.Values() }

// Record returns the aggregates recorded at step.
func (c *Cell) Record(step int) StepRecord {
	return StepRecord{
		Step:      step,
		Length:    c.lengthTrace.At(step),
		Flux:      c.flux.At(step),
		Base:      c.base.At(step),
		Diffusing: c.diffusing.At(step),
		Active:    c.active.At(step),
		Avalanche: c.avalanche.At(step),
	}
}

// CountInFlagellum returns the number of motors currently in the filament.
func (c *Cell) CountInFlagellum() int {
	n := 0
	for _, m := range c.motors {
		if m.InFlagellum() {
			n++
		}
	}
	return n
}

func (c *Cell) String() string {
	return fmt.Sprintf("Cell of length %g populated by %d motors", c.length, len(c.motors))
}
