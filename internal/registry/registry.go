package registry

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ConfigError reports a malformed metric definition source. It is the only
// error in the exporter that is allowed to be fatal, and only at startup.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("invalid metric definitions: %v", e.Err)
	}
	return fmt.Sprintf("invalid metric definitions in %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Spec is one metric definition: the query to run and the rules for turning
// its rows into gauge samples. Specs are immutable after Load.
//
// Exactly one of Query and LatencyOf must be set. A LatencyOf spec emits the
// average execution time (in seconds) of the named query text instead of
// running a query of its own.
type Spec struct {
	Name        string         `yaml:"name"`
	Help        string         `yaml:"help"`
	Query       string         `yaml:"query"`
	QueryParams map[string]any `yaml:"query_params"`
	ValueField  string         `yaml:"value_field"`
	Labels      []string       `yaml:"labels"`
	LatencyOf   string         `yaml:"latency_of"`
}

// Registry holds the ordered metric definitions. Read-only after Load; safe
// for concurrent use.
type Registry struct {
	specs []Spec
}

// Specs returns the definitions in source order. Callers must not modify the
// returned slice.
func (r *Registry) Specs() []Spec { return r.specs }

func (r *Registry) Len() int { return len(r.specs) }

type definitionFile struct {
	Metrics []Spec `yaml:"metrics"`
}

var (
	nameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

	// Best-effort guard against data-mutating queries. Word-boundary match on
	// Cypher write clauses; a quoted literal can trip it, which surfaces at
	// startup rather than at scrape time.
	writeClauseRe = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|DETACH|SET|REMOVE|DROP)\b`)
)

// Load reads and validates a metric definition file. The file is YAML with a
// top-level "metrics" list; JSON definition files parse the same way.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Err: err}
	}
	reg, err := Parse(data)
	if err != nil {
		if ce, ok := err.(*ConfigError); ok {
			ce.Source = path
		}
		return nil, err
	}
	return reg, nil
}

// Parse validates raw definition bytes. Split from Load so tests and embedded
// definitions avoid the filesystem.
func Parse(data []byte) (*Registry, error) {
	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &ConfigError{Err: err}
	}

	seen := make(map[string]struct{}, len(file.Metrics))
	for i, spec := range file.Metrics {
		if err := validateSpec(spec); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("metric #%d: %w", i, err)}
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, &ConfigError{Err: fmt.Errorf("metric #%d: duplicate name %q", i, spec.Name)}
		}
		seen[spec.Name] = struct{}{}
	}

	return &Registry{specs: file.Metrics}, nil
}

func validateSpec(spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !nameRe.MatchString(spec.Name) {
		return fmt.Errorf("name %q is not a valid metric name", spec.Name)
	}

	if spec.LatencyOf != "" {
		if spec.Query != "" {
			return fmt.Errorf("%s: query and latency_of are mutually exclusive", spec.Name)
		}
		if spec.ValueField != "" || len(spec.Labels) > 0 || len(spec.QueryParams) > 0 {
			return fmt.Errorf("%s: latency_of metrics take no value_field, labels or query_params", spec.Name)
		}
		return nil
	}

	if spec.Query == "" {
		return fmt.Errorf("%s: query is required", spec.Name)
	}
	if m := writeClauseRe.FindString(spec.Query); m != "" {
		return fmt.Errorf("%s: query contains write clause %q; only read queries are allowed", spec.Name, m)
	}
	if spec.ValueField == "" {
		return fmt.Errorf("%s: value_field is required", spec.Name)
	}
	for _, label := range spec.Labels {
		if label == spec.ValueField {
			return fmt.Errorf("%s: value_field %q must not also be a label", spec.Name, label)
		}
	}
	for key, value := range spec.QueryParams {
		if err := validateParam(value); err != nil {
			return fmt.Errorf("%s: query_params[%s]: %w", spec.Name, key, err)
		}
		if !placeholderRe(key).MatchString(spec.Query) {
			return fmt.Errorf("%s: query_params[%s] has no $%s placeholder in the query", spec.Name, key, key)
		}
	}
	return nil
}

// placeholderRe matches $key as a whole placeholder, so a param named "w"
// is not satisfied by a query referencing $window.
func placeholderRe(key string) *regexp.Regexp {
	return regexp.MustCompile(`\$` + regexp.QuoteMeta(key) + `\b`)
}

// Query parameters are bound as typed values by the driver; only scalars are
// accepted so the binding stays unambiguous.
func validateParam(value any) error {
	switch value.(type) {
	case string, bool, int, int64, float64:
		return nil
	case nil:
		return fmt.Errorf("null is not a valid parameter value")
	default:
		return fmt.Errorf("unsupported parameter type %T (want string, int, float or bool)", value)
	}
}
