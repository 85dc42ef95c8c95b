package cell

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is wrapped by every configuration error.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the engine configuration. For TimeStepDuration, AvalancheShape,
// FluxBoundary and every steady-state and density field, zero selects the
// built-in default; tuning files reject those zeros instead.
type Config struct {
	Seed int64

	TotalSteps    int
	InitialLength float64
	MotorCount    int

	// TransportSpeed is the distance a bound motor covers per step.
	TransportSpeed float64
	BindingOnRate  float64
	BindingOffRate float64

	AvalancheEnabled   bool
	AvalancheThreshold int
	// ReleaseBatchHint is carried for parity with older parameter sets; the
	// release count is always drawn from the Weibull burst distribution.
	ReleaseBatchHint int
	// AvalancheShape is the Weibull shape parameter of the burst draw.
	AvalancheShape float64

	LengthModulation bool
	BuildStep        float64
	DecayStep        float64

	DiffusionCoefficient float64
	RetrogradeOnly       bool

	// ManualLengthMultiplier scales the length once, at step TotalSteps/2.
	// Zero disables the override.
	ManualLengthMultiplier float64

	RunToSteadyState bool
	TimeStepDuration float64

	// FluxBoundary is the distance from the base under which bound motors
	// count towards the flux trace.
	FluxBoundary float64

	RecordMotorTraces bool

	SteadyFitSeconds float64
	SteadyEps        float64
	SteadyMeanWindow int
	ExtendSeconds    float64
	MaxExtensions    int

	DensityWindow int
	DensityPoints int
}

func (c *Config) applyDefaults() {
	if c.TimeStepDuration == 0 {
		c.TimeStepDuration = 0.01
	}
	if c.AvalancheShape == 0 {
		c.AvalancheShape = 2.85
	}
	if c.FluxBoundary == 0 {
		c.FluxBoundary = 1
	}
	if c.SteadyFitSeconds == 0 {
		c.SteadyFitSeconds = 1000
	}
	if c.SteadyEps == 0 {
		c.SteadyEps = 5e-6
	}
	if c.SteadyMeanWindow == 0 {
		c.SteadyMeanWindow = 3000
	}
	if c.ExtendSeconds == 0 {
		c.ExtendSeconds = 500
	}
	if c.MaxExtensions == 0 {
		c.MaxExtensions = 200
	}
	if c.DensityWindow == 0 {
		c.DensityWindow = 10000
	}
	if c.DensityPoints == 0 {
		c.DensityPoints = 100
	}
}

// Validate applies defaults to a copy of c and checks it.
func (c Config) Validate() error {
	c.applyDefaults()
	return c.validate()
}

func (c Config) validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	probability := func(name string, v float64) error {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return bad("%s=%v must be in [0,1]", name, v)
		}
		return nil
	}
	nonNegative := func(name string, v float64) error {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return bad("%s=%v must be a finite value >= 0", name, v)
		}
		return nil
	}

	if err := probability("binding_on_rate", c.BindingOnRate); err != nil {
		return err
	}
	if err := probability("binding_off_rate", c.BindingOffRate); err != nil {
		return err
	}
	if c.TotalSteps < 1 {
		return bad("total_steps=%d must be >= 1", c.TotalSteps)
	}
	if c.MotorCount < 1 {
		return bad("motor_count=%d must be >= 1", c.MotorCount)
	}
	if c.AvalancheThreshold < 0 {
		return bad("avalanche_threshold=%d must be >= 0", c.AvalancheThreshold)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"initial_length", c.InitialLength},
		{"transport_speed", c.TransportSpeed},
		{"build_step", c.BuildStep},
		{"decay_step", c.DecayStep},
		{"diffusion_coefficient", c.DiffusionCoefficient},
		{"manual_length_multiplier", c.ManualLengthMultiplier},
		{"flux_boundary", c.FluxBoundary},
		{"steady_eps", c.SteadyEps},
	} {
		if err := nonNegative(f.name, f.v); err != nil {
			return err
		}
	}
	if !(c.TimeStepDuration > 0) || math.IsInf(c.TimeStepDuration, 0) {
		return bad("time_step_duration=%v must be > 0", c.TimeStepDuration)
	}
	if !(c.AvalancheShape > 0) {
		return bad("avalanche_power_param=%v must be > 0", c.AvalancheShape)
	}
	if c.fitRange() < 2 {
		return bad("steady_fit_seconds=%v covers fewer than 2 steps", c.SteadyFitSeconds)
	}
	if c.extendChunk() < 2 {
		return bad("extend_seconds=%v covers fewer than 2 steps", c.ExtendSeconds)
	}
	if c.SteadyMeanWindow < 1 || c.MaxExtensions < 0 || c.DensityWindow < 1 {
		return bad("steady/density windows must be positive")
	}
	if c.DensityPoints < 2 {
		return bad("density_points=%d must be >= 2", c.DensityPoints)
	}
	return nil
}

// fitRange is the steady-state regression window in steps.
func (c Config) fitRange() int { return int(c.SteadyFitSeconds / c.TimeStepDuration) }

// extendChunk is the number of steps requested per steady-state extension.
func (c Config) extendChunk() int { return int(c.ExtendSeconds / c.TimeStepDuration) }

// RMSDisplacement is the per-step diffusive displacement of an unbound motor.
func (c Config) RMSDisplacement() float64 {
	return math.Sqrt(2 * c.DiffusionCoefficient * c.TimeStepDuration)
}

// DecayRatePerSecond converts the per-step decay into length per second.
func (c Config) DecayRatePerSecond() float64 {
	if c.TimeStepDuration <= 0 {
		return 0
	}
	return c.DecayStep / c.TimeStepDuration
}

// PredictedLength is the balance-point length at which tip deposition by
// recycling motors matches base decay:
//
//	sqrt(2 * D * (N - threshold) * buildStep / decayRatePerSecond)
func PredictedLength(c Config) (float64, error) {
	c.applyDefaults()
	rate := c.DecayRatePerSecond()
	if !(rate > 0) {
		return 0, fmt.Errorf("%w: predicted length needs a positive decay rate (decay_step=%v)", ErrInvalidConfig, c.DecayStep)
	}
	n := c.MotorCount - c.AvalancheThreshold
	if n <= 0 {
		return 0, fmt.Errorf("%w: predicted length needs motor_count > avalanche_threshold (%d <= %d)", ErrInvalidConfig, c.MotorCount, c.AvalancheThreshold)
	}
	v := math.Sqrt(2 * c.DiffusionCoefficient * float64(n) * c.BuildStep / rate)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: predicted length is not finite", ErrInvalidConfig)
	}
	return v, nil
}
