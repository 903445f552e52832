package service

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Metered features and their default point costs.
const (
	FeatureConversation    = "conversation"
	FeatureWriting         = "writing"
	FeatureQuiz            = "quiz"
	FeatureGrammarCheck    = "grammar_check"
	FeatureGrammarTopic    = "grammar_topic"
	FeatureGrammarAnalysis = "grammar_analysis"
	FeatureCoachingStart   = "coaching_start"
	FeatureCoachingMessage = "coaching_message"
)

var DefaultFeatureCosts = map[string]int64{
	FeatureConversation:    1,
	FeatureWriting:         1,
	FeatureQuiz:            1,
	FeatureGrammarCheck:    1,
	FeatureGrammarTopic:    1,
	FeatureGrammarAnalysis: 1,
	FeatureCoachingStart:   5,
	FeatureCoachingMessage: 2,
}

// Catalog maps feature names to point costs.
type Catalog struct {
	costs map[string]int64
}

type catalogFile struct {
	Features map[string]int64 `yaml:"features"`
}

// NewCatalog starts from DefaultFeatureCosts and applies overrides.
func NewCatalog(overrides map[string]int64) (*Catalog, error) {
	costs := make(map[string]int64, len(DefaultFeatureCosts)+len(overrides))
	for name, cost := range DefaultFeatureCosts {
		costs[name] = cost
	}
	for name, cost := range overrides {
		if name == "" {
			return nil, fmt.Errorf("feature name must not be empty")
		}
		if cost < 0 {
			return nil, fmt.Errorf("feature %q: cost must not be negative", name)
		}
		costs[name] = cost
	}
	return &Catalog{costs: costs}, nil
}

// LoadCatalog reads overrides from a YAML file of the form
//
//	features:
//	  coaching_start: 5
//
// An empty path yields the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature costs: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse feature costs %s: %w", path, err)
	}
	return NewCatalog(f.Features)
}

func (c *Catalog) Cost(feature string) (int64, error) {
	cost, ok := c.costs[feature]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownFeature, feature)
	}
	return cost, nil
}

func (c *Catalog) Features() []string {
	names := make([]string, 0, len(c.costs))
	for name := range c.costs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
