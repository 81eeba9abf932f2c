package policy

import (
	"fmt"
	"os"
	"regexp"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ThreatCategory is a named class of malicious intent with its compiled
// pattern matchers. Matching is case-insensitive.
type ThreatCategory struct {
	Name     string
	patterns []*regexp.Regexp
}

// Matches reports whether any of the category's patterns match the text.
func (c *ThreatCategory) Matches(text string) bool {
	for _, p := range c.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// PatternCount returns the number of compiled patterns in the category.
func (c *ThreatCategory) PatternCount() int {
	return len(c.patterns)
}

// PatternSet is the validated, ordered threat pattern table. Categories are
// evaluated in document order so layer-1 decisions are deterministic.
// Immutable after construction; safe for concurrent readers.
type PatternSet struct {
	categories []ThreatCategory
}

// patternsDocument mirrors the threat-pattern yaml file. The mapping is
// decoded through yaml.Node to preserve category order.
type patternsDocument struct {
	ThreatPatterns yaml.Node `yaml:"threat_patterns"`
}

// LoadPatterns reads and compiles a threat-pattern document from a yaml
// file. Invalid patterns are skipped with a warning rather than failing the
// whole set, matching how security teams iterate on pattern lists.
func LoadPatterns(path string, logger *zap.Logger) (*PatternSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, path)
		}
		return nil, fmt.Errorf("failed to read threat patterns: %w", err)
	}

	var doc patternsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyInvalid, err)
	}
	if doc.ThreatPatterns.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: threat_patterns must be a mapping of category to pattern list", ErrPolicyInvalid)
	}

	ordered := make([]struct {
		name     string
		patterns []string
	}, 0, len(doc.ThreatPatterns.Content)/2)

	for i := 0; i+1 < len(doc.ThreatPatterns.Content); i += 2 {
		key := doc.ThreatPatterns.Content[i]
		value := doc.ThreatPatterns.Content[i+1]

		var patterns []string
		if err := value.Decode(&patterns); err != nil {
			return nil, fmt.Errorf("%w: category %q: %v", ErrPolicyInvalid, key.Value, err)
		}
		ordered = append(ordered, struct {
			name     string
			patterns []string
		}{name: key.Value, patterns: patterns})
	}

	raw := make(map[string][]string, len(ordered))
	order := make([]string, 0, len(ordered))
	for _, entry := range ordered {
		if _, exists := raw[entry.name]; exists {
			return nil, fmt.Errorf("%w: duplicate threat category %q", ErrPolicyInvalid, entry.name)
		}
		raw[entry.name] = entry.patterns
		order = append(order, entry.name)
	}

	return NewPatternSet(order, raw, logger)
}

// NewPatternSet compiles an ordered threat-pattern table. The order slice
// fixes evaluation order; raw maps category name to its textual patterns.
func NewPatternSet(order []string, raw map[string][]string, logger *zap.Logger) (*PatternSet, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	categories := make([]ThreatCategory, 0, len(order))
	total := 0
	for _, name := range order {
		compiled := make([]*regexp.Regexp, 0, len(raw[name]))
		for _, pat := range raw[name] {
			re, err := regexp.Compile("(?i)" + pat)
			if err != nil {
				logger.Warn("skipping invalid threat pattern",
					zap.String("category", name),
					zap.String("pattern", pat),
					zap.Error(err))
				continue
			}
			compiled = append(compiled, re)
		}
		categories = append(categories, ThreatCategory{Name: name, patterns: compiled})
		total += len(compiled)
	}

	logger.Info("threat patterns compiled",
		zap.Int("categories", len(categories)),
		zap.Int("patterns", total))

	return &PatternSet{categories: categories}, nil
}

// Match tests the text against every category in order and returns the names
// of all categories with at least one matching pattern. The first name in
// the result is the deciding category.
func (s *PatternSet) Match(text string) []string {
	var matched []string
	for i := range s.categories {
		if s.categories[i].Matches(text) {
			matched = append(matched, s.categories[i].Name)
		}
	}
	return matched
}

// Categories returns the ordered category names.
func (s *PatternSet) Categories() []string {
	names := make([]string, len(s.categories))
	for i := range s.categories {
		names[i] = s.categories[i].Name
	}
	return names
}
