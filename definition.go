package process

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ProcessType describes where a process's steps run.
type ProcessType string

const (
	ProcessTypeInternal ProcessType = "internal"
	ProcessTypeRemote   ProcessType = "remote"
	ProcessTypeHybrid   ProcessType = "hybrid"
)

// StepType identifies the handler kind a step is dispatched to.
type StepType string

const (
	StepTypeInternalService StepType = "internal_service"
	StepTypeRemoteWorkflow  StepType = "remote_workflow"
	StepTypeTransform       StepType = "transform"
	StepTypeIntegration     StepType = "integration"
	StepTypeNotification    StepType = "notification"
)

// Operator is a comparison operator used in step conditions.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorContains    Operator = "contains"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
)

// Condition is a single predicate over the payload gating whether a step runs.
// Field is a dot-path into the payload. A step's conditions are combined with
// logical AND.
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value" yaml:"value"`
}

// RetrySettings configures the bounded exponential backoff applied to steps
// flagged retry_on_failure.
type RetrySettings struct {
	MaxAttempts int           `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	BaseDelay   time.Duration `json:"base_delay,omitempty" yaml:"base_delay,omitempty"`
	MaxDelay    time.Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// StepDefinition describes a single step in a process.
//
// Target names either an internal service (internal_service steps) or a
// remote workflow ID (remote_workflow steps). InputMapping projects payload
// dot-paths into the step input; OutputMapping writes step output dot-paths
// back into the payload. When OutputMapping is empty the step's entire output
// replaces the payload. That default-replace behavior is deliberate and load
// bearing: handlers that want to extend the payload must return it merged.
type StepDefinition struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	Type           StepType          `json:"type" yaml:"type"`
	Target         string            `json:"target,omitempty" yaml:"target,omitempty"`
	Order          int               `json:"order" yaml:"order"`
	InputMapping   map[string]string `json:"input_mapping,omitempty" yaml:"input_mapping,omitempty"`
	OutputMapping  map[string]string `json:"output_mapping,omitempty" yaml:"output_mapping,omitempty"`
	Conditions     []Condition       `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	RetryOnFailure bool              `json:"retry_on_failure,omitempty" yaml:"retry_on_failure,omitempty"`
	Timeout        time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Parameters     map[string]any    `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// ProcessDefinition is an ordered, named list of steps plus metadata.
type ProcessDefinition struct {
	ID      string           `json:"id" yaml:"id"`
	Name    string           `json:"name" yaml:"name"`
	Type    ProcessType      `json:"type,omitempty" yaml:"type,omitempty"`
	Steps   []StepDefinition `json:"steps" yaml:"steps"`
	Timeout time.Duration    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retry   *RetrySettings   `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Validate checks the definition for structural problems. All violations are
// reported as validation errors.
func (d *ProcessDefinition) Validate() error {
	if d.ID == "" {
		return NewValidationError("process id required")
	}
	if d.Name == "" {
		return NewValidationError("process name required")
	}
	if len(d.Steps) == 0 {
		return NewValidationError("process %q must have at least one step", d.ID)
	}
	seenIDs := make(map[string]bool, len(d.Steps))
	seenOrders := make(map[int]string, len(d.Steps))
	for i := range d.Steps {
		step := &d.Steps[i]
		if step.ID == "" {
			return NewValidationError("process %q: step %d has empty id", d.ID, i)
		}
		if seenIDs[step.ID] {
			return NewValidationError("process %q: duplicate step id %q", d.ID, step.ID)
		}
		seenIDs[step.ID] = true
		if step.Type == "" {
			return NewValidationError("process %q: step %q has empty type", d.ID, step.ID)
		}
		if prior, ok := seenOrders[step.Order]; ok {
			return NewValidationError("process %q: steps %q and %q share order %d",
				d.ID, prior, step.ID, step.Order)
		}
		seenOrders[step.Order] = step.ID
	}
	return nil
}

// SortedSteps returns the steps sorted ascending by order. The sort is
// stable, so declaration index breaks ties.
func (d *ProcessDefinition) SortedSteps() []StepDefinition {
	steps := make([]StepDefinition, len(d.Steps))
	copy(steps, d.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Order < steps[j].Order
	})
	return steps
}

// GetStep returns a step by ID.
func (d *ProcessDefinition) GetStep(id string) (*StepDefinition, bool) {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// LoadFile loads a process definition from a YAML file
func LoadFile(path string) (*ProcessDefinition, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read process definition file: %w", err)
	}
	return LoadString(string(yamlData))
}

// LoadString loads a process definition from a YAML string
func LoadString(data string) (*ProcessDefinition, error) {
	var def ProcessDefinition
	if err := yaml.Unmarshal([]byte(data), &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal process definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}
