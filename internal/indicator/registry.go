package indicator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"

	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
)

// Params holds named indicator parameters. Integer parameters are
// carried as float64 and checked for integrality during validation.
type Params map[string]float64

// ParamSpec declares one parameter with its accepted range.
type ParamSpec struct {
	Name    string
	Min     float64
	Max     float64
	Integer bool
	Default float64
}

// Spec is one registry entry.
type Spec struct {
	Name   string
	Fields []string
	Params []ParamSpec
	// WarmUp returns the number of leading undefined rows for the
	// given validated params.
	WarmUp  func(p Params) int
	compute func(bars []domain.Bar, hash string, p Params) Frame
}

// registry maps indicator names to their specs. Names are lower-case.
var registry = map[string]Spec{}

func register(s Spec) {
	registry[s.Name] = s
}

// Lookup returns the spec for a registered indicator name.
func Lookup(name string) (Spec, bool) {
	s, ok := registry[name]
	return s, ok
}

// Names returns the sorted registry names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ValidateParams fills defaults and checks each parameter against the
// spec's declared range. Unknown parameters are rejected.
func ValidateParams(spec Spec, p Params) (Params, error) {
	out := make(Params, len(spec.Params))
	declared := make(map[string]ParamSpec, len(spec.Params))
	for _, ps := range spec.Params {
		declared[ps.Name] = ps
		out[ps.Name] = ps.Default
	}
	for name, v := range p {
		ps, ok := declared[name]
		if !ok {
			return nil, kerr.Newf(kerr.KindConfig, "indicator %q has no parameter %q", spec.Name, name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, kerr.Newf(kerr.KindConfig, "indicator %q parameter %q must be finite", spec.Name, name)
		}
		if ps.Integer && v != math.Trunc(v) {
			return nil, kerr.Newf(kerr.KindConfig, "indicator %q parameter %q must be an integer, got %v", spec.Name, name, v)
		}
		if v < ps.Min || v > ps.Max {
			return nil, kerr.Newf(kerr.KindConfig, "indicator %q parameter %q must be in [%v, %v], got %v",
				spec.Name, name, ps.Min, ps.Max, v)
		}
		out[name] = v
	}
	return out, nil
}

// ParamsHash returns a stable hex digest of the sorted parameters,
// suitable as a store key component.
func ParamsHash(p Params) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s;", k, strconv.FormatFloat(p[k], 'g', -1, 64))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Compute validates params and runs the named indicator over the bars.
func Compute(name string, p Params, bars []domain.Bar) (Frame, error) {
	spec, ok := Lookup(name)
	if !ok {
		return Frame{}, kerr.Newf(kerr.KindConfig, "unknown indicator %q", name)
	}
	full, err := ValidateParams(spec, p)
	if err != nil {
		return Frame{}, err
	}
	return spec.compute(bars, ParamsHash(full), full), nil
}

func period(p Params, name string) int {
	return int(p[name])
}

func periodSpec(def, max float64) ParamSpec {
	return ParamSpec{Name: "period", Min: 1, Max: max, Integer: true, Default: def}
}
