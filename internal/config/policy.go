package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var DefaultPolicyYAML []byte

// StagePolicy controls retries and the per-attempt timeout of one stage
type StagePolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RiskLimits holds portfolio construction limits used by the synthesizer
type RiskLimits struct {
	MaxSectorConcentration map[string]float64 `yaml:"max_sector_concentration"`
}

// SignalThresholds are the composite score cut-offs for each signal label
type SignalThresholds struct {
	StrongBuy float64 `yaml:"strong_buy"`
	Buy       float64 `yaml:"buy"`
	Hold      float64 `yaml:"hold"`
	Sell      float64 `yaml:"sell"`
}

// SectorIndices maps holding sector tags to the index that proxies the
// sector. Codes are INDEX: followed by the Yahoo symbol.
type SectorIndices struct {
	Benchmark string            `yaml:"benchmark"`
	Sectors   map[string]string `yaml:"sectors"`
}

// Codes returns the benchmark and every sector index code, sorted. Without
// a benchmark no relative strength can be computed and Codes is empty.
func (s SectorIndices) Codes() []string {
	if s.Benchmark == "" {
		return nil
	}
	seen := map[string]bool{s.Benchmark: true}
	codes := []string{s.Benchmark}
	for _, code := range s.Sectors {
		if code != "" && !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// Policy is the tunable behaviour of the pipeline, loaded from YAML
type Policy struct {
	Stages           map[string]StagePolicy `yaml:"stages"`
	RiskLimits       RiskLimits             `yaml:"risk_limits"`
	SignalThresholds SignalThresholds       `yaml:"signal_thresholds"`
	SectorIndices    SectorIndices          `yaml:"sector_indices"`
}

// LoadPolicy parses the embedded default policy and overlays the file at path, if any.
// Stages missing from the overlay keep their defaults.
func LoadPolicy(path string) (*Policy, error) {
	policy, err := parsePolicy(DefaultPolicyYAML, nil)
	if err != nil {
		return nil, fmt.Errorf("parsing default policy: %w", err)
	}
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return parsePolicy(data, policy)
}

func parsePolicy(data []byte, base *Policy) (*Policy, error) {
	var overlay Policy
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}
	if base == nil {
		return &overlay, nil
	}

	merged := *base
	merged.Stages = make(map[string]StagePolicy, len(base.Stages))
	for name, sp := range base.Stages {
		merged.Stages[name] = sp
	}
	for name, sp := range overlay.Stages {
		merged.Stages[name] = sp
	}
	if len(overlay.RiskLimits.MaxSectorConcentration) > 0 {
		merged.RiskLimits = overlay.RiskLimits
	}
	if overlay.SignalThresholds != (SignalThresholds{}) {
		merged.SignalThresholds = overlay.SignalThresholds
	}
	if overlay.SectorIndices.Benchmark != "" || len(overlay.SectorIndices.Sectors) > 0 {
		merged.SectorIndices = overlay.SectorIndices
	}
	return &merged, nil
}

// Validate checks the policy is internally consistent
func (p *Policy) Validate() error {
	for _, stage := range []string{"parse", "fetch", "score", "synthesize"} {
		sp, ok := p.Stages[stage]
		if !ok {
			return fmt.Errorf("policy: missing stage %q", stage)
		}
		if sp.MaxAttempts < 1 {
			return fmt.Errorf("policy: stage %q max_attempts must be >= 1", stage)
		}
		if sp.Timeout <= 0 {
			return fmt.Errorf("policy: stage %q timeout must be positive", stage)
		}
		if sp.Multiplier < 1 {
			return fmt.Errorf("policy: stage %q multiplier must be >= 1", stage)
		}
		if sp.MaxDelay < sp.BaseDelay {
			return fmt.Errorf("policy: stage %q max_delay is below base_delay", stage)
		}
	}
	t := p.SignalThresholds
	if !(t.StrongBuy > t.Buy && t.Buy > t.Hold && t.Hold > t.Sell) {
		return fmt.Errorf("policy: signal thresholds must be strictly decreasing")
	}
	if p.SectorIndices.Benchmark == "" && len(p.SectorIndices.Sectors) > 0 {
		return fmt.Errorf("policy: sector indices need a benchmark")
	}
	return nil
}
