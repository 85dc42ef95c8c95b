package cell

import (
	"fmt"

	"iftsim.dev/internal/sim/series"
)

// State is the location/mode of a motor.
type State uint8

const (
	InBase State = iota
	Diffusing
	ActiveTransport
)

func (s State) String() string {
	switch s {
	case InBase:
		return "IN_BASE"
	case Diffusing:
		return "DIFFUSING"
	case ActiveTransport:
		return "ACTIVE_TRANSPORT"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

type Motor struct {
	id   int
	cell *Cell

	pos       float64
	state     State
	deposited bool

	posTrace   *series.Series[float64]
	stateTrace *series.Series[State]
}

func newMotor(id int, c *Cell, steps int) *Motor {
	m := &Motor{id: id, cell: c, state: InBase}
	if c.cfg.RecordMotorTraces {
		m.posTrace = series.New[float64](steps)
		m.stateTrace = series.New[State](steps)
	}
	return m
}

func (m *Motor) ID() int                     { return m.id }
func (m *Motor) Position() float64           { return m.pos }
func (m *Motor) State() State                { return m.state }
func (m *Motor) InFlagellum() bool           { return m.state != InBase }
func (m *Motor) Bound() bool                 { return m.state == ActiveTransport }
func (m *Motor) Deposited() bool             { return m.deposited }
func (m *Motor) PositionAt(step int) float64 { return m.posTrace.At(step) }
func (m *Motor) StateAt(step int) State      { return m.stateTrace.At(step) }

func (m *Motor) String() string {
	return fmt.Sprintf("Motor %d at position %g (%s)", m.id, m.pos, m.state)
}

// update advances the motor by one step: movement keyed on the current
// state, then the binding roll if the motor is still in the filament.
func (m *Motor) update() {
	switch m.state {
	case Diffusing:
		if m.cell.cfg.LengthModulation {
			m.diffuse()
		} else {
			m.diffuseFixedLength()
		}
	case ActiveTransport:
		m.activeTransport()
	}
	if m.state != InBase {
		m.bindingRoll()
	}
}

func (m *Motor) diffuse() {
	c := m.cell
	if m.pos > c.length {
		// Decay shrank the filament under the motor.
		m.pos = c.length
	}
	switch {
	case m.pos == c.length:
		// The tip only lets motors retreat.
		m.pos -= c.rms
	case c.cfg.RetrogradeOnly:
		m.pos -= c.cfg.TransportSpeed
	default:
		m.pos += m.coinStep()
	}
	m.pos = clamp(m.pos, 0, c.length)
	if m.pos <= 0 {
		m.enterBase()
	}
}

// diffuseFixedLength is the diffusion rule used when the filament length is
// not modulated. A motor at the tip consumes one binding draw without
// changing state and always steps back.
func (m *Motor) diffuseFixedLength() {
	c := m.cell
	switch {
	case m.pos <= 0:
		m.enterBase()
		return
	case m.pos >= c.length:
		_ = c.rng.Float64()
		m.pos = c.length - c.rms
	default:
		m.pos += m.coinStep()
	}
	m.pos = clamp(m.pos, 0, c.length)
}

func (m *Motor) activeTransport() {
	c := m.cell
	if m.pos < c.length {
		m.pos = min(m.pos+c.cfg.TransportSpeed, c.length)
	}
	if m.pos >= c.length {
		m.pos = c.length
		if !m.deposited {
			c.length += c.cfg.BuildStep
			m.deposited = true
		}
		m.state = Diffusing
	}
}

func (m *Motor) bindingRoll() {
	r := m.cell.rng.Float64()
	switch m.state {
	case Diffusing:
		if r < m.cell.cfg.BindingOnRate {
			m.state = ActiveTransport
		}
	case ActiveTransport:
		if r < m.cell.cfg.BindingOffRate {
			m.state = Diffusing
		}
	}
}

func (m *Motor) coinStep() float64 {
	if m.cell.rng.Float64() < 0.5 {
		return -m.cell.rms
	}
	return m.cell.rms
}

func (m *Motor) enterBase() {
	m.pos = 0
	m.state = InBase
}

// inject moves a base motor into the filament as a bound motor.
func (m *Motor) inject(resetDeposit bool) {
	m.state = ActiveTransport
	if resetDeposit {
		m.deposited = false
	}
}

func (m *Motor) record(step int) {
	if m.posTrace == nil {
		return
	}
	m.posTrace.Set(step, m.pos)
	m.stateTrace.Set(step, m.state)
}

func (m *Motor) extendTraces(n int) {
	if m.posTrace == nil {
		return
	}
	m.posTrace.Extend(n)
	m.stateTrace.Extend(n)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
