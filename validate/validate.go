// Package validate checks a canonical dataset against structural rules:
// tree well-formedness, required metadata, array invariants, episode
// schema homogeneity, and configured cross-field consistency rules.
//
// Validation never mutates its input, so it is safe to run against a
// dataset concurrently being read by a conversion.
package validate

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/robodata/rdm/dataset"
)

// Severity tags an issue. Errors fail the result; warnings are reported
// but do not.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Issue is one validation finding.
type Issue struct {
	Severity Severity
	Code     string // stable machine-readable code, e.g. "episode_schema"
	Path     string // offending node path, "" for dataset-level issues
	Message  string
}

func (i Issue) String() string {
	if i.Path == "" {
		return fmt.Sprintf("[%s] %s: %s", i.Severity, i.Code, i.Message)
	}
	return fmt.Sprintf("[%s] %s at %s: %s", i.Severity, i.Code, i.Path, i.Message)
}

// Result is the structured outcome of a validation pass.
type Result struct {
	OK     bool
	Issues []Issue
}

// NewResult returns a passing result with no issues.
func NewResult() *Result {
	return &Result{OK: true}
}

// AddError records an error-severity issue and fails the result.
func (r *Result) AddError(code, path, format string, args ...interface{}) {
	r.OK = false
	r.Issues = append(r.Issues, Issue{
		Severity: SeverityError,
		Code:     code,
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
	})
}

// AddWarning records a warning-severity issue.
func (r *Result) AddWarning(code, path, format string, args ...interface{}) {
	r.Issues = append(r.Issues, Issue{
		Severity: SeverityWarning,
		Code:     code,
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
	})
}

// ErrorCount returns the number of error-severity issues.
func (r *Result) ErrorCount() int {
	n := 0
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			n++
		}
	}
	return n
}

// Rule is a cross-field consistency rule: the two named arrays must
// share their leading dimension (e.g. actions and observations both
// sized by episode length). Rules are dataset-global and supplied by
// configuration, never hard-coded per format.
type Rule struct {
	Left  string
	Right string
}

// Config controls which checks run.
type Config struct {
	// Strict escalates advisory findings and enables cross-field rules.
	Strict bool
	// CheckSchema enables cross-field rules without full strictness.
	CheckSchema bool
	// Rules are the configured cross-field consistency rules.
	Rules []Rule
	// RequiredMetadataKeys come from the format descriptor.
	RequiredMetadataKeys []string
}

// Validate runs the ordered check pipeline against a dataset. Structural
// corruption stops the pass immediately; all other findings accumulate.
func Validate(ds *dataset.Dataset, cfg Config) *Result {
	res := NewResult()

	if ds == nil || ds.Root == nil {
		res.AddError("structure", "", "dataset has no root group")
		return res
	}

	// 1. Structural well-formedness. Duplicate names cannot be built
	// through the model API, but shared subtrees (one node reachable
	// twice) can; both are corruption and stop the pass.
	if !checkStructure(ds, res) {
		return res
	}

	// 2. Required metadata presence.
	for _, key := range cfg.RequiredMetadataKeys {
		if _, ok := ds.Metadata[key]; !ok {
			res.AddError("metadata", "", "missing required metadata key %q", key)
		}
	}
	if v, ok := ds.Metadata["format_version"]; ok {
		if _, err := semver.NewVersion(v); err != nil {
			res.AddWarning("metadata", "", "format_version %q is not a semantic version", v)
		}
	}

	// 3. Array invariants.
	_ = ds.Walk(func(p string, n dataset.Node) error {
		if a, ok := n.(*dataset.Array); ok {
			if err := a.CheckInvariants(); err != nil {
				res.AddError("array_invariant", p, "%s", err.Error())
			}
		}
		return nil
	})

	// 4. Episode schema homogeneity.
	checkEpisodes(ds, res)

	// 5. Cross-field consistency, only when configured on.
	if cfg.Strict || cfg.CheckSchema {
		for _, rule := range cfg.Rules {
			checkRule(ds, rule, res)
		}
	}

	return res
}

// checkStructure walks the tree detecting shared or cyclic nodes.
// Returns false on corruption.
func checkStructure(ds *dataset.Dataset, res *Result) bool {
	seen := map[dataset.Node]string{}
	corrupt := false
	_ = ds.Walk(func(p string, n dataset.Node) error {
		if prev, ok := seen[n]; ok {
			res.AddError("structure", p, "node also reachable at %s: tree must be single-ownership", prev)
			corrupt = true
			return errStop
		}
		seen[n] = p
		return nil
	})
	return !corrupt
}

var errStop = fmt.Errorf("stop")

// checkEpisodes verifies all episode-convention groups share one
// step-field schema. Heterogeneous schemas are a validation error,
// not a silent merge.
func checkEpisodes(ds *dataset.Dataset, res *Result) {
	eps := dataset.Episodes(ds)
	if len(eps) < 2 {
		return
	}
	ref := dataset.SchemaOf(eps[0])
	for _, ep := range eps[1:] {
		if !dataset.SchemaOf(ep).Equal(ref) {
			res.AddError("episode_schema", "/"+ep.Name(),
				"step-field schema differs from episode %q", eps[0].Name())
		}
	}
}

// checkRule enforces a shared leading dimension between two arrays.
// Arrays addressed relative to an episode's steps group are checked per
// episode; absolute paths are checked once.
func checkRule(ds *dataset.Dataset, rule Rule, res *Result) {
	eps := dataset.Episodes(ds)
	if len(eps) == 0 {
		compareLeading(ds, "/"+rule.Left, "/"+rule.Right, res)
		return
	}
	for _, ep := range eps {
		prefix := "/" + ep.Name() + "/"
		compareLeading(ds, prefix+rule.Left, prefix+rule.Right, res)
	}
}

func compareLeading(ds *dataset.Dataset, left, right string, res *Result) {
	la, lok := ds.Lookup(left).(*dataset.Array)
	ra, rok := ds.Lookup(right).(*dataset.Array)
	if !lok || !rok {
		// A rule naming absent arrays is advisory, not structural.
		res.AddWarning("cross_field", left, "rule references missing array (%s, %s)", left, right)
		return
	}
	if len(la.Shape) == 0 || len(ra.Shape) == 0 {
		res.AddError("cross_field", left, "cross-field rule requires non-scalar arrays")
		return
	}
	if la.Shape[0] != ra.Shape[0] {
		res.AddError("cross_field", left,
			"leading dimension %d != %d of %s", la.Shape[0], ra.Shape[0], right)
	}
}
