package constants

import (
	"strings"
)

// ParamKind describes how candidate values for a parameter are compared.
type ParamKind string

const (
	ParamNumeric     ParamKind = "numeric"
	ParamCategorical ParamKind = "categorical"
	ParamVector      ParamKind = "vector"
)

// Parameter is one entry of the imaging parameter catalog.
type Parameter struct {
	Name       string
	Kind       ParamKind
	Unit       string   // canonical unit, "" for unitless
	Dim        int      // vector length for ParamVector, 0 otherwise
	Modalities []string // modalities this parameter applies to
	Required   bool     // drives the "missing" section of the gap report
}

var catalog = []Parameter{
	// CT
	{Name: "slice_thickness_mm", Kind: ParamNumeric, Unit: "mm", Modalities: []string{"CT"}, Required: true},
	{Name: "kernel", Kind: ParamCategorical, Modalities: []string{"CT"}, Required: true},
	{Name: "kernel_family", Kind: ParamCategorical, Modalities: []string{"CT"}},
	{Name: "kVp", Kind: ParamNumeric, Unit: "kVp", Modalities: []string{"CT"}, Required: true},
	{Name: "mAs", Kind: ParamNumeric, Unit: "mAs", Modalities: []string{"CT"}, Required: true},
	{Name: "voxel_size_mm", Kind: ParamVector, Unit: "mm", Dim: 3, Modalities: []string{"CT", "MRI"}, Required: true},
	{Name: "matrix", Kind: ParamVector, Dim: 2, Modalities: []string{"CT", "MRI"}, Required: true},
	{Name: "fov_mm", Kind: ParamNumeric, Unit: "mm", Modalities: []string{"CT", "MRI"}, Required: true},
	// MRI
	{Name: "repetition_time_ms", Kind: ParamNumeric, Unit: "ms", Modalities: []string{"MRI"}, Required: true},
	{Name: "echo_time_ms", Kind: ParamNumeric, Unit: "ms", Modalities: []string{"MRI"}, Required: true},
	{Name: "flip_angle_deg", Kind: ParamNumeric, Unit: "deg", Modalities: []string{"MRI"}, Required: true},
	{Name: "field_strength_t", Kind: ParamNumeric, Unit: "T", Modalities: []string{"MRI"}},
}

// Catalog returns the full parameter catalog.
func Catalog() []Parameter {
	out := make([]Parameter, len(catalog))
	copy(out, catalog)
	return out
}

// ParameterByName looks up a catalog entry.
func ParameterByName(name string) (Parameter, bool) {
	for _, p := range catalog {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// ParameterNames returns all known parameter names in catalog order.
func ParameterNames() []string {
	out := make([]string, len(catalog))
	for i, p := range catalog {
		out[i] = p.Name
	}
	return out
}

// RequiredForModalities returns the required parameter names for the given
// modalities. With no recognized modality it falls back to every required
// parameter, so a weak verdict still produces a useful gap report.
func RequiredForModalities(modalities []string) []string {
	want := make(map[string]struct{}, len(modalities))
	for _, m := range modalities {
		want[strings.ToUpper(strings.TrimSpace(m))] = struct{}{}
	}
	var out []string
	for _, p := range catalog {
		if !p.Required {
			continue
		}
		if len(want) == 0 {
			out = append(out, p.Name)
			continue
		}
		for _, m := range p.Modalities {
			if _, ok := want[m]; ok {
				out = append(out, p.Name)
				break
			}
		}
	}
	if len(out) == 0 {
		for _, p := range catalog {
			if p.Required {
				out = append(out, p.Name)
			}
		}
	}
	return out
}

// CanonicalParameter maps common jargon to a catalog name.
func CanonicalParameter(input string) (string, bool) {
	if input == "" {
		return "", false
	}
	normalized := strings.ToLower(strings.TrimSpace(input))

	synonyms := map[string]string{
		"tr":              "repetition_time_ms",
		"repetition time": "repetition_time_ms",
		"te":              "echo_time_ms",
		"echo time":       "echo_time_ms",
		"flip angle":      "flip_angle_deg",
		"field strength":  "field_strength_t",
		"kvp":             "kVp",
		"tube voltage":    "kVp",
		"mas":             "mAs",
		"tube current":    "mAs",
		"slice thickness": "slice_thickness_mm",
		"fov":             "fov_mm",
		"field of view":   "fov_mm",
		"voxel size":      "voxel_size_mm",
	}
	if name, ok := synonyms[normalized]; ok {
		return name, true
	}
	for _, p := range catalog {
		if normalized == strings.ToLower(p.Name) {
			return p.Name, true
		}
	}
	return "", false
}
