package tuning

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"iftsim.dev/internal/sim/cell"
)

// ErrInvalid is the configuration error sentinel shared with the engine.
var ErrInvalid = cell.ErrInvalidConfig

//go:embed tuning.schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("tuning.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

type Tuning struct {
	Seed int64 `yaml:"seed" json:"seed"`

	TotalSteps    int     `yaml:"total_steps" json:"total_steps"`
	InitialLength float64 `yaml:"initial_length" json:"initial_length"`
	MotorCount    int     `yaml:"motor_count" json:"motor_count"`

	TransportSpeed float64 `yaml:"transport_speed" json:"transport_speed"`
	BindingOnRate  float64 `yaml:"binding_on_rate" json:"binding_on_rate"`
	BindingOffRate float64 `yaml:"binding_off_rate" json:"binding_off_rate"`

	AvalancheEnabled    bool    `yaml:"avalanche_enabled" json:"avalanche_enabled"`
	AvalancheThreshold  int     `yaml:"avalanche_threshold" json:"avalanche_threshold"`
	ReleaseBatchHint    int     `yaml:"release_batch_hint" json:"release_batch_hint"`
	AvalanchePowerParam float64 `yaml:"avalanche_power_param" json:"avalanche_power_param"`

	LengthModulationEnabled bool    `yaml:"length_modulation_enabled" json:"length_modulation_enabled"`
	BuildStep               float64 `yaml:"build_step" json:"build_step"`
	DecayStep               float64 `yaml:"decay_step" json:"decay_step"`

	DiffusionCoefficient   float64 `yaml:"diffusion_coefficient" json:"diffusion_coefficient"`
	RetrogradeOnly         bool    `yaml:"retrograde_only" json:"retrograde_only"`
	ManualLengthMultiplier float64 `yaml:"manual_length_multiplier" json:"manual_length_multiplier"`

	RunToSteadyState  bool    `yaml:"run_to_steady_state" json:"run_to_steady_state"`
	TimeStepDuration  float64 `yaml:"time_step_duration" json:"time_step_duration"`
	FluxBoundary      float64 `yaml:"flux_boundary" json:"flux_boundary"`
	RecordMotorTraces bool    `yaml:"record_motor_traces" json:"record_motor_traces"`

	SteadyFitSeconds float64 `yaml:"steady_fit_seconds" json:"steady_fit_seconds"`
	SteadyEps        float64 `yaml:"steady_eps" json:"steady_eps"`
	SteadyMeanWindow int     `yaml:"steady_mean_window" json:"steady_mean_window"`
	ExtendSeconds    float64 `yaml:"extend_seconds" json:"extend_seconds"`
	MaxExtensions    int     `yaml:"max_extensions" json:"max_extensions"`

	DensityWindow int `yaml:"density_window" json:"density_window"`
	DensityPoints int `yaml:"density_points" json:"density_points"`
}

func Defaults() Tuning {
	return Tuning{
		Seed:                    1,
		TotalSteps:              30000,
		InitialLength:           0,
		MotorCount:              200,
		TransportSpeed:          2,
		BindingOnRate:           0,
		BindingOffRate:          0,
		AvalancheEnabled:        true,
		AvalancheThreshold:      30,
		ReleaseBatchHint:        5,
		AvalanchePowerParam:     2.85,
		LengthModulationEnabled: true,
		BuildStep:               0.00125,
		DecayStep:               0.0001,
		DiffusionCoefficient:    1.75,
		RunToSteadyState:        true,
		TimeStepDuration:        0.01,
		FluxBoundary:            1,
		RecordMotorTraces:       true,
		SteadyFitSeconds:        1000,
		SteadyEps:               5e-6,
		SteadyMeanWindow:        3000,
		ExtendSeconds:           500,
		MaxExtensions:           200,
		DensityWindow:           10000,
		DensityPoints:           100,
	}
}

// Load reads a YAML file over Defaults. An empty path returns the defaults.
// Unknown keys and type mismatches are rejected by the schema.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := validateDocument(raw); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Apply merges a decoded override document over t. The document is checked
// against the schema first, so typos in keys are reported.
func Apply(t Tuning, overrides map[string]any) (Tuning, error) {
	if len(overrides) == 0 {
		return t, nil
	}
	if err := validateValue(overrides); err != nil {
		return t, err
	}
	raw, err := yaml.Marshal(overrides)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, err
	}
	return t, nil
}

// validateDocument checks the raw YAML document against the schema before it
// is merged over the defaults.
func validateDocument(raw []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	return validateValue(doc)
}

func validateValue(v any) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile tuning schema: %w", err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (t Tuning) Validate() error {
	if err := validateValue(t); err != nil {
		return err
	}
	return t.Config().Validate()
}

// MarshalCanonical is the JSON form that Digest hashes.
func (t Tuning) MarshalCanonical() ([]byte, error) { return json.Marshal(t) }

// Digest is the sha256 of the canonical JSON encoding, used to key runs.
func (t Tuning) Digest() string {
	b, _ := t.MarshalCanonical()
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (t Tuning) Config() cell.Config {
	return cell.Config{
		Seed:                   t.Seed,
		TotalSteps:             t.TotalSteps,
		InitialLength:          t.InitialLength,
		MotorCount:             t.MotorCount,
		TransportSpeed:         t.TransportSpeed,
		BindingOnRate:          t.BindingOnRate,
		BindingOffRate:         t.BindingOffRate,
		AvalancheEnabled:       t.AvalancheEnabled,
		AvalancheThreshold:     t.AvalancheThreshold,
		ReleaseBatchHint:       t.ReleaseBatchHint,
		AvalancheShape:         t.AvalanchePowerParam,
		LengthModulation:       t.LengthModulationEnabled,
		BuildStep:              t.BuildStep,
		DecayStep:              t.DecayStep,
		DiffusionCoefficient:   t.DiffusionCoefficient,
		RetrogradeOnly:         t.RetrogradeOnly,
		ManualLengthMultiplier: t.ManualLengthMultiplier,
		RunToSteadyState:       t.RunToSteadyState,
		TimeStepDuration:       t.TimeStepDuration,
		FluxBoundary:           t.FluxBoundary,
		RecordMotorTraces:      t.RecordMotorTraces,
		SteadyFitSeconds:       t.SteadyFitSeconds,
		SteadyEps:              t.SteadyEps,
		SteadyMeanWindow:       t.SteadyMeanWindow,
		ExtendSeconds:          t.ExtendSeconds,
		MaxExtensions:          t.MaxExtensions,
		DensityWindow:          t.DensityWindow,
		DensityPoints:          t.DensityPoints,
	}
}
