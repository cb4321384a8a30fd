// Package pipeline loads named multi-job documents and submits them to a
// job system in dependency order.
package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/me/jobsys/pkg/model"
)

// Step is one job of a pipeline. After names the steps it depends on.
type Step struct {
	Name     string         `yaml:"name" json:"name"`
	Type     string         `yaml:"type" json:"type"`
	Channels string         `yaml:"channels,omitempty" json:"channels,omitempty"`
	After    []string       `yaml:"after,omitempty" json:"after,omitempty"`
	Input    map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
}

// Pipeline is a named set of steps.
type Pipeline struct {
	Name  string `yaml:"name" json:"name"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Parse decodes a YAML or JSON pipeline document and validates it.
func Parse(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that the pipeline has steps, that names are unique and
// non-empty, that every step has a type and that every After reference
// names another step.
func (p *Pipeline) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("pipeline %q has no steps", p.Name)
	}

	names := make(map[string]bool, len(p.Steps))
	var errs []model.FieldError
	for i, s := range p.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		switch {
		case s.Name == "":
			errs = append(errs, model.FieldError{Field: field + ".name", Message: "is required"})
		case names[s.Name]:
			errs = append(errs, model.FieldError{Field: field + ".name", Message: fmt.Sprintf("duplicate step %q", s.Name)})
		}
		names[s.Name] = true
		if s.Type == "" {
			errs = append(errs, model.FieldError{Field: field + ".type", Message: "is required"})
		}
		if s.Channels != "" {
			if _, err := model.ParseChannelMask(s.Channels); err != nil {
				errs = append(errs, model.FieldError{Field: field + ".channels", Message: err.Error()})
			}
		}
	}
	for i, s := range p.Steps {
		for _, dep := range s.After {
			if !names[dep] {
				errs = append(errs, model.FieldError{
					Field:   fmt.Sprintf("steps[%d].after", i),
					Message: fmt.Sprintf("unknown step %q", dep),
				})
			}
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Pipeline: p.Name, Errors: errs}
	}
	return nil
}

// ValidationError lists every problem found in a pipeline document.
type ValidationError struct {
	Pipeline string
	Errors   []model.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return fmt.Sprintf("invalid pipeline %q: %s", e.Pipeline, strings.Join(parts, "; "))
}

// Submitter accepts job requests. *jobsystem.System satisfies it.
type Submitter interface {
	SubmitRequest(req model.JobRequest) (int, error)
}

// Submit submits every step in topological order, translating After
// names into job IDs. On failure the IDs submitted so far are returned
// with the error.
func Submit(sys Submitter, p *Pipeline) (map[string]int, error) {
	dag, err := BuildDAG(p)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Step, len(p.Steps))
	for _, s := range p.Steps {
		byName[s.Name] = s
	}

	ids := make(map[string]int, len(p.Steps))
	for _, name := range dag.Order {
		step := byName[name]
		req, err := stepRequest(step, dag.Edges[name], ids)
		if err != nil {
			return ids, err
		}
		id, err := sys.SubmitRequest(req)
		if err != nil {
			return ids, fmt.Errorf("submit step %q: %w", name, err)
		}
		ids[name] = id
	}
	return ids, nil
}

func stepRequest(step Step, after []string, ids map[string]int) (model.JobRequest, error) {
	req := model.JobRequest{Type: step.Type}
	if step.Input != nil {
		data, err := json.Marshal(step.Input)
		if err != nil {
			return req, fmt.Errorf("step %q: encode input: %w", step.Name, err)
		}
		req.Input = data
	}
	if step.Channels != "" {
		mask, err := model.ParseChannelMask(step.Channels)
		if err != nil {
			return req, fmt.Errorf("step %q: %w", step.Name, err)
		}
		req.Channels = &mask
	}
	if len(after) > 0 {
		req.Dependencies = make([]int, 0, len(after))
		for _, dep := range after {
			req.Dependencies = append(req.Dependencies, ids[dep])
		}
	}
	return req, nil
}
