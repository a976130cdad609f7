package llm

// JSON-Schema builders (draft 2020-12 subset) for each reasoning call. The
// same map is sent to the model as a structured-output constraint and used
// locally to validate the response.

func confidenceProp() map[string]any {
	return map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0}
}

func stringArrayProp() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}

// BuildVerdictJSONSchema constrains the imaging-verdict response.
func BuildVerdictJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"is_imaging":      map[string]any{"type": "boolean"},
			"modalities":      stringArrayProp(),
			"confidence":      confidenceProp(),
			"reasons":         stringArrayProp(),
			"counter_signals": stringArrayProp(),
		},
		"required": []string{"is_imaging", "confidence"},
	}
}

// BuildTitleJSONSchema constrains the title-inference response.
func BuildTitleJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"title":      map[string]any{"type": "string"},
			"confidence": confidenceProp(),
			"reasons":    stringArrayProp(),
		},
		"required": []string{"title", "confidence"},
	}
}

// BuildPageClassJSONSchema constrains the per-page triage response.
func BuildPageClassJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"labels":     stringArrayProp(),
			"modalities": stringArrayProp(),
			"score":      confidenceProp(),
			"evidence":   stringArrayProp(),
		},
		"required": []string{"labels", "score"},
	}
}

// BuildCandidatesJSONSchema constrains the window-extraction response.
// Parameter names are restricted to the known catalog when provided.
func BuildCandidatesJSONSchema(knownParameters []string) map[string]any {
	nameProp := map[string]any{"type": "string", "minLength": 1}
	if len(knownParameters) > 0 {
		nameProp = map[string]any{"type": "string", "enum": knownParameters}
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"candidates": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"parameter_name": nameProp,
						"value":          map[string]any{}, // number | string | array, per parameter kind
						"unit":           map[string]any{"type": "string"},
						"raw_snippet":    map[string]any{"type": "string", "minLength": 1},
						"confidence":     confidenceProp(),
					},
					"required": []string{"parameter_name", "value", "raw_snippet", "confidence"},
				},
			},
		},
		"required": []string{"candidates"},
	}
}

// BuildQuestionsJSONSchema constrains the gap-question response.
func BuildQuestionsJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"questions": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string", "minLength": 1},
			},
		},
		"required": []string{"questions"},
	}
}
