// Package langs holds the embedded language catalog and the
// language-resolution rule applied to brand-new lineages.
package langs

import (
	"embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"crowdloc/internal/domain"
)

//go:embed catalog.yaml
var catalogFS embed.FS

// AutoSentinel is the client-side "detect for me" marker. It is never a
// valid language for a persisted lineage.
const AutoSentinel = "auto"

// Language is one entry of the embedded catalog.
type Language struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type catalog struct {
	Languages []Language `yaml:"languages"`
}

// Catalog validates language codes against the embedded list.
type Catalog struct {
	byCode map[string]Language
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	data, err := catalogFS.ReadFile("catalog.yaml")
	if err != nil {
		return nil, fmt.Errorf("read language catalog: %w", err)
	}

	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse language catalog: %w", err)
	}

	byCode := make(map[string]Language, len(c.Languages))
	for _, lang := range c.Languages {
		byCode[strings.ToLower(lang.Code)] = lang
	}
	return &Catalog{byCode: byCode}, nil
}

// Known reports whether code names a concrete catalog language.
func (c *Catalog) Known(code string) bool {
	if code == AutoSentinel {
		return false
	}
	_, ok := c.byCode[strings.ToLower(code)]
	return ok
}

// ValidatePair enforces the new-lineage rule: both languages concrete
// (the auto-detect sentinel is rejected) and different from each other.
func (c *Catalog) ValidatePair(source, target string) error {
	if source == AutoSentinel || target == AutoSentinel {
		return &domain.ValidationError{Message: "auto-detect is not allowed for a new lineage"}
	}
	if !c.Known(source) {
		return &domain.ValidationError{Message: fmt.Sprintf("unknown source language %q", source)}
	}
	if !c.Known(target) {
		return &domain.ValidationError{Message: fmt.Sprintf("unknown target language %q", target)}
	}
	if strings.EqualFold(source, target) {
		return &domain.ValidationError{Message: "source and target language must differ"}
	}
	return nil
}
