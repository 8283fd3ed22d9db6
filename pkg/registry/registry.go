// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func LoadRegistry(path string) (*TemplateRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg TemplateRegistry
	err = json.Unmarshal(data, &reg)
	return &reg, err
}

// SaveRegistry writes reg as indented JSON, creating the directory if needed.
func SaveRegistry(reg *TemplateRegistry, path string) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}

// Find returns the entry named name.
func (r *TemplateRegistry) Find(name string) (*Entry, bool) {
	for i := range r.Templates {
		if r.Templates[i].Name == name {
			return &r.Templates[i], true
		}
	}
	return nil, false
}

// Active returns the entries the engine should register. An empty status
// counts as active.
func (r *TemplateRegistry) Active() []Entry {
	var out []Entry
	for _, e := range r.Templates {
		if e.Status == "" || e.Status == StatusActive {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks every entry and returns all problems found.
func (r *TemplateRegistry) Validate() error {
	var errs []error
	names := make(map[string]bool)
	for i, e := range r.Templates {
		label := e.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			errs = append(errs, fmt.Errorf("template %s missing required field: name", label))
		} else if names[e.Name] {
			errs = append(errs, fmt.Errorf("duplicate template name: %s", e.Name))
		}
		names[e.Name] = true
		if err := e.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("template %s: %w", label, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks types, statuses and that every "$name" reference names a
// declared parameter.
func (e *Entry) Validate() error {
	var errs []error
	switch e.Status {
	case "", StatusDraft, StatusActive, StatusRetired:
	default:
		errs = append(errs, fmt.Errorf("unknown status %q", e.Status))
	}
	if len(e.Actions) == 0 {
		errs = append(errs, errors.New("at least one action is required"))
	}

	declared := make(map[string]bool, len(e.Parameters))
	for _, p := range e.Parameters {
		if p.Name == "" {
			errs = append(errs, errors.New("parameter missing name"))
			continue
		}
		if declared[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate parameter %s", p.Name))
		}
		declared[p.Name] = true
		if p.Type != "" && !contains(ParameterTypes, p.Type) {
			errs = append(errs, fmt.Errorf("parameter %s has unknown type %q", p.Name, p.Type))
		}
	}

	check := func(kind string, steps []Step, known []string) {
		for i, s := range steps {
			if !contains(known, s.Type) {
				errs = append(errs, fmt.Errorf("%s %d has unknown type %q", kind, i, s.Type))
			}
			for key, v := range s.Params {
				ref, ok := v.(string)
				if !ok || !strings.HasPrefix(ref, "$") {
					continue
				}
				if !declared[strings.TrimPrefix(ref, "$")] {
					errs = append(errs, fmt.Errorf("%s %d param %s references undeclared %s", kind, i, key, ref))
				}
			}
		}
	}
	check("condition", e.Conditions, ConditionTypes)
	check("action", e.Actions, ActionTypes)
	return errors.Join(errs...)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
