package gateway

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var validHarmCategories = map[string]bool{
	"HARM_CATEGORY_HARASSMENT":        true,
	"HARM_CATEGORY_HATE_SPEECH":       true,
	"HARM_CATEGORY_SEXUALLY_EXPLICIT": true,
	"HARM_CATEGORY_DANGEROUS_CONTENT": true,
}

var validThresholds = map[string]bool{
	"BLOCK_NONE":             true,
	"BLOCK_ONLY_HIGH":        true,
	"BLOCK_MEDIUM_AND_ABOVE": true,
	"BLOCK_LOW_AND_ABOVE":    true,
}

type safetyDocument struct {
	SafetySettings []SafetySetting `yaml:"safety_settings"`
}

// DefaultSafetyPolicy blocks medium-and-above content in every category.
// Applied when no safety settings file is configured.
func DefaultSafetyPolicy() SafetyPolicy {
	policy := make(SafetyPolicy, 0, len(validHarmCategories))
	for _, category := range []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	} {
		policy = append(policy, SafetySetting{Category: category, Threshold: "BLOCK_MEDIUM_AND_ABOVE"})
	}
	return policy
}

// LoadSafetyPolicy reads and validates a safety settings file. Every entry
// must name a known harm category and block threshold; duplicates are
// rejected.
func LoadSafetyPolicy(path string) (SafetyPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read safety settings file: %w", err)
	}

	var doc safetyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse safety settings file: %w", err)
	}
	if len(doc.SafetySettings) == 0 {
		return nil, fmt.Errorf("safety settings file %q defines no settings", path)
	}

	seen := make(map[string]bool, len(doc.SafetySettings))
	for i, setting := range doc.SafetySettings {
		if !validHarmCategories[setting.Category] {
			return nil, fmt.Errorf("safety setting %d: unknown harm category %q", i, setting.Category)
		}
		if !validThresholds[setting.Threshold] {
			return nil, fmt.Errorf("safety setting %d: unknown block threshold %q", i, setting.Threshold)
		}
		if seen[setting.Category] {
			return nil, fmt.Errorf("safety setting %d: duplicate harm category %q", i, setting.Category)
		}
		seen[setting.Category] = true
	}

	return SafetyPolicy(doc.SafetySettings), nil
}
