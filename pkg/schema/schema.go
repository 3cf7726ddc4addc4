// Package schema defines the step-document shape: flow files, reusable
// modules, and the step record the interpreter walks. Loading is strict;
// unknown fields are rejected.
package schema

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StepKind classifies what a step record means to the interpreter.
type StepKind string

const (
	KindAction      StepKind = "action"
	KindConditional StepKind = "conditional"
	KindLoop        StepKind = "loop"
	KindInclude     StepKind = "include"
	KindInvalid     StepKind = "invalid"
)

// Step is one interpreter instruction. Exactly one of the four shapes must
// be populated: an action, a conditional (if/then/else), a loop
// (for_each/as/do), or a module include (use_module).
type Step struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Action shape.
	Action   string         `yaml:"action,omitempty" json:"action,omitempty"`
	Selector string         `yaml:"selector,omitempty" json:"selector,omitempty"`
	Value    any            `yaml:"value,omitempty" json:"value,omitempty"`
	Params   map[string]any `yaml:"params,omitempty" json:"params,omitempty"`

	// Conditional shape.
	If   string `yaml:"if,omitempty" json:"if,omitempty"`
	Then []Step `yaml:"then,omitempty" json:"then,omitempty"`
	Else []Step `yaml:"else,omitempty" json:"else,omitempty"`

	// Loop shape.
	ForEach any    `yaml:"for_each,omitempty" json:"for_each,omitempty"`
	As      string `yaml:"as,omitempty" json:"as,omitempty"`
	Do      []Step `yaml:"do,omitempty" json:"do,omitempty"`

	// Include shape. Params doubles as the module parameter bindings.
	UseModule string `yaml:"use_module,omitempty" json:"use_module,omitempty"`

	// A failing step normally aborts the run; with this flag the failure
	// is recorded and the run continues.
	ContinueOnFailure bool `yaml:"continue_on_failure,omitempty" json:"continue_on_failure,omitempty"`
}

// Kind classifies the step. A step mixing shapes or matching none is
// KindInvalid.
func (s *Step) Kind() StepKind {
	kinds := 0
	kind := KindInvalid
	if s.If != "" {
		kinds++
		kind = KindConditional
	}
	if s.ForEach != nil {
		kinds++
		kind = KindLoop
	}
	if s.UseModule != "" {
		kinds++
		kind = KindInclude
	}
	if s.Action != "" {
		kinds++
		kind = KindAction
	}
	if kinds != 1 {
		return KindInvalid
	}
	return kind
}

// Label names a step for logs and failure messages.
func (s *Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	switch s.Kind() {
	case KindAction:
		return s.Action
	case KindConditional:
		return "if " + s.If
	case KindLoop:
		return "for_each"
	case KindInclude:
		return "use_module " + s.UseModule
	default:
		return "step"
	}
}

// Flow is a top-level step document.
type Flow struct {
	Name  string         `yaml:"name,omitempty" json:"name,omitempty"`
	Vars  map[string]any `yaml:"vars,omitempty" json:"vars,omitempty"`
	Steps []Step         `yaml:"steps" json:"steps"`
}

// Module is a reusable named step list referenced by use_module.
type Module struct {
	Name  string `yaml:"name" json:"name"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// LoadFlow parses a flow file with strict field checking.
func LoadFlow(path string) (*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow %q: %w", path, err)
	}
	var f Flow
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse flow %q: %w", path, err)
	}
	return &f, nil
}

// LoadModule parses a module file with strict field checking.
func LoadModule(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read module %q: %w", path, err)
	}
	var m Module
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse module %q: %w", path, err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("module %q has no name", path)
	}
	return &m, nil
}
