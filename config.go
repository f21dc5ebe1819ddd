package loom

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigSource is one declarative configuration document attached to an
// archive. Sources are YAML; see the package documentation for the
// schema. The reader is consumed exactly once, during deployment.
type ConfigSource struct {
	Name   string
	Reader io.Reader
}

// configDocument is the YAML shape of one declarative source.
//
//	stereotypes:
//	  - name: rest
//	    scope: request
//	    named: true
//	alternatives:
//	  - example.com/billing.MockGateway
//	decorators:
//	  - example.com/billing.AuditDecorator
//	interceptors:
//	  - example.com/billing.TxInterceptor
//	components:
//	  example.com/billing.PaymentService:
//	    scope: application
//	    name: payments
//	    qualifiers: [reliable, tier=gold]
//	    alternative: true
type configDocument struct {
	Stereotypes  []stereotypeDoc         `yaml:"stereotypes"`
	Alternatives []string                `yaml:"alternatives"`
	Decorators   []string                `yaml:"decorators"`
	Interceptors []string                `yaml:"interceptors"`
	Components   map[string]componentDoc `yaml:"components"`
}

type stereotypeDoc struct {
	Name        string   `yaml:"name"`
	Scope       string   `yaml:"scope"`
	Qualifiers  []string `yaml:"qualifiers"`
	Bindings    []string `yaml:"bindings"`
	Alternative bool     `yaml:"alternative"`
	Named       bool     `yaml:"named"`
	Stereotypes []string `yaml:"stereotypes"`
}

// componentDoc overrides per-type metadata. Unset fields keep the
// declared value; pointer fields distinguish "unset" from "false".
type componentDoc struct {
	Scope       string   `yaml:"scope"`
	Name        string   `yaml:"name"`
	Qualifiers  []string `yaml:"qualifiers"`
	Stereotypes []string `yaml:"stereotypes"`
	Alternative *bool    `yaml:"alternative"`
	Specializes *bool    `yaml:"specializes"`
}

// deploymentConfig is the merged view of every configuration source in
// one deployment. List sections append in source order; a component
// entry in a later source replaces the earlier entry for the same type
// key.
type deploymentConfig struct {
	stereotypes  []stereotypeDoc
	alternatives []string
	decorators   []string
	interceptors []string
	components   map[string]componentDoc
	matched      map[string]bool
}

func newDeploymentConfig() *deploymentConfig {
	return &deploymentConfig{
		components: make(map[string]componentDoc),
		matched:    make(map[string]bool),
	}
}

// readSource parses and merges one declarative source. An empty
// document is valid and contributes nothing.
func (dc *deploymentConfig) readSource(src ConfigSource) error {
	if src.Reader == nil {
		return ConfigSourceError{Source: src.Name, Cause: errors.New("nil reader")}
	}

	dec := yaml.NewDecoder(src.Reader)
	dec.KnownFields(true)

	var doc configDocument
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return ConfigSourceError{Source: src.Name, Cause: err}
	}

	dc.stereotypes = append(dc.stereotypes, doc.Stereotypes...)
	dc.alternatives = appendUnique(dc.alternatives, doc.Alternatives)
	dc.decorators = appendUnique(dc.decorators, doc.Decorators)
	dc.interceptors = appendUnique(dc.interceptors, doc.Interceptors)
	for typeName, entry := range doc.Components {
		if typeName == "" {
			return ConfigSourceError{Source: src.Name, Cause: errors.New("component entry with empty type key")}
		}
		dc.components[typeName] = entry
	}
	return nil
}

// overrideFor returns the configuration entry for a type key and marks
// it consumed. Keys never consumed surface as validation errors.
func (dc *deploymentConfig) overrideFor(typeName string) (componentDoc, bool) {
	doc, ok := dc.components[typeName]
	if ok {
		dc.matched[typeName] = true
	}
	return doc, ok
}

// unmatched returns the component type keys no discovered type claimed,
// sorted for deterministic error reporting.
func (dc *deploymentConfig) unmatched() []string {
	var keys []string
	for typeName := range dc.components {
		if !dc.matched[typeName] {
			keys = append(keys, typeName)
		}
	}
	sort.Strings(keys)
	return keys
}

// parseQualifierList parses config qualifier entries of the form "name"
// or "name=value".
func parseQualifierList(entries []string) ([]Qualifier, error) {
	quals := make([]Qualifier, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, value, hasValue := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("qualifier entry %q: empty name", entry)
		}
		if hasValue {
			quals = append(quals, QualValue(name, strings.TrimSpace(value)))
		} else {
			quals = append(quals, Qual(name))
		}
	}
	return quals, nil
}

func appendUnique(dst []string, src []string) []string {
	for _, s := range src {
		seen := false
		for _, have := range dst {
			if have == s {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, s)
		}
	}
	return dst
}
