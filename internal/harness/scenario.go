package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/morph/internal/diag"
	"github.com/roach88/morph/internal/profile"
)

// Scenario is one scripted run of a program.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description says what the scenario exercises.
	Description string `yaml:"description"`

	// Program is the path of the CUE program, relative to the scenario
	// file. LoadScenario resolves it.
	Program string `yaml:"program"`

	// Thresholds tune promotion. Fields left out keep their defaults.
	Thresholds profile.Thresholds `yaml:"thresholds,omitempty"`

	// GhostPolicy is "retain" (default) or "refuse".
	GhostPolicy string `yaml:"ghost_policy,omitempty"`

	Calls      []CallStep  `yaml:"calls"`
	Assertions []Assertion `yaml:"assertions"`

	// Path is the file the scenario was loaded from.
	Path string `yaml:"-"`
}

// CallStep invokes a function Repeat times (once when zero).
type CallStep struct {
	Function string        `yaml:"function"`
	Args     []any         `yaml:"args"`
	Repeat   int           `yaml:"repeat,omitempty"`
	Expect   *ExpectClause `yaml:"expect,omitempty"`
}

// Times reports how many calls the step makes.
func (s CallStep) Times() int {
	if s.Repeat <= 0 {
		return 1
	}
	return s.Repeat
}

// ExpectClause checks every call of a step. Result is compared for
// equality; Error is a substring the call's error must contain.
type ExpectClause struct {
	Result any    `yaml:"result,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

// Assertion checks the state after all calls.
type Assertion struct {
	Type     string `yaml:"type"`
	Function string `yaml:"function,omitempty"`

	// Stage is the expected stage name (stage).
	Stage string `yaml:"stage,omitempty"`

	// Form is "native" or "interpreted" (form).
	Form string `yaml:"form,omitempty"`

	// Expect lists "from->to" pairs in order (transitions).
	Expect []string `yaml:"expect,omitempty"`

	// Kind and Count select diagnostics (diagnostic_count). An empty
	// Function counts every function.
	Kind  string `yaml:"kind,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// Score is the bound for score_at_least and score_below.
	Score float64 `yaml:"score,omitempty"`
}

// Assertion type constants.
const (
	AssertStage           = "stage"
	AssertForm            = "form"
	AssertTransitions     = "transitions"
	AssertDiagnosticCount = "diagnostic_count"
	AssertScoreAtLeast    = "score_at_least"
	AssertScoreBelow      = "score_below"
)

var diagnosticKinds = []diag.Kind{
	diag.KindPromotion,
	diag.KindHardeningFailure,
	diag.KindGhostValidation,
	diag.KindDeoptimization,
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so a typo cannot silently disable an assertion.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Path = path
	if s.Program != "" && !filepath.IsAbs(s.Program) {
		s.Program = filepath.Join(filepath.Dir(path), s.Program)
	}
	if _, err := os.Stat(s.Program); err != nil {
		return nil, fmt.Errorf("%s: program not found: %s", path, s.Program)
	}
	return s, nil
}

// ParseScenario decodes and validates a scenario. The program path is left
// as written.
func ParseScenario(data []byte) (*Scenario, error) {
	s := Scenario{Thresholds: profile.DefaultThresholds()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// callTrace is a file of call steps without assertions.
type callTrace struct {
	Calls []CallStep `yaml:"calls"`
}

// LoadCalls reads a call trace: a YAML file with a single calls list in
// the scenario format.
func LoadCalls(path string) ([]CallStep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read call trace: %w", err)
	}
	var ct callTrace
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ct); err != nil {
		return nil, fmt.Errorf("%s: failed to parse YAML: %w", path, err)
	}
	if len(ct.Calls) == 0 {
		return nil, fmt.Errorf("%s: calls list is required and must be non-empty", path)
	}
	for i, c := range ct.Calls {
		if c.Function == "" {
			return nil, fmt.Errorf("%s: calls[%d]: function is required", path, i)
		}
	}
	return ct.Calls, nil
}

// DiscoverScenarios returns the .yaml and .yml files under dir, sorted.
func DiscoverScenarios(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover scenarios: %w", err)
	}
	slices.Sort(paths)
	return paths, nil
}

// Validate checks required fields and assertion parameters.
func (s *Scenario) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if s.Program == "" {
		errs = append(errs, errors.New("program is required"))
	}
	if len(s.Calls) == 0 {
		errs = append(errs, errors.New("calls list is required and must be non-empty"))
	}
	if err := s.Thresholds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("thresholds: %w", err))
	}
	switch strings.ToLower(s.GhostPolicy) {
	case "", "retain", "refuse":
	default:
		errs = append(errs, fmt.Errorf("ghost_policy: unknown policy %q", s.GhostPolicy))
	}
	for i, c := range s.Calls {
		if c.Function == "" {
			errs = append(errs, fmt.Errorf("calls[%d]: function is required", i))
		}
		if c.Repeat < 0 {
			errs = append(errs, fmt.Errorf("calls[%d]: repeat must not be negative", i))
		}
		if c.Expect != nil && c.Expect.Result != nil && c.Expect.Error != "" {
			errs = append(errs, fmt.Errorf("calls[%d].expect: result and error are exclusive", i))
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateAssertion(i int, a *Assertion) error {
	needFunction := func() error {
		if a.Function == "" {
			return fmt.Errorf("assertions[%d]: %s requires function", i, a.Type)
		}
		return nil
	}
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	case AssertStage:
		if err := needFunction(); err != nil {
			return err
		}
		if _, err := profile.ParseStage(a.Stage); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	case AssertForm:
		if err := needFunction(); err != nil {
			return err
		}
		if a.Form != "native" && a.Form != "interpreted" {
			return fmt.Errorf("assertions[%d]: form must be native or interpreted, got %q", i, a.Form)
		}
	case AssertTransitions:
		if err := needFunction(); err != nil {
			return err
		}
		for _, t := range a.Expect {
			if _, _, err := parseTransition(t); err != nil {
				return fmt.Errorf("assertions[%d]: %w", i, err)
			}
		}
	case AssertDiagnosticCount:
		if !slices.Contains(diagnosticKinds, diag.Kind(a.Kind)) {
			return fmt.Errorf("assertions[%d]: unknown diagnostic kind %q", i, a.Kind)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must not be negative", i)
		}
	case AssertScoreAtLeast, AssertScoreBelow:
		if err := needFunction(); err != nil {
			return err
		}
		if a.Score < 0 || a.Score > 1 {
			return fmt.Errorf("assertions[%d]: score must be in [0, 1], got %v", i, a.Score)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}

// parseTransition splits "observe->refine".
func parseTransition(s string) (profile.Stage, profile.Stage, error) {
	from, to, ok := strings.Cut(s, "->")
	if !ok {
		return 0, 0, fmt.Errorf("transition %q: want from->to", s)
	}
	f, err := profile.ParseStage(strings.TrimSpace(from))
	if err != nil {
		return 0, 0, fmt.Errorf("transition %q: %w", s, err)
	}
	t, err := profile.ParseStage(strings.TrimSpace(to))
	if err != nil {
		return 0, 0, fmt.Errorf("transition %q: %w", s, err)
	}
	return f, t, nil
}
