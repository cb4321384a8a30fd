package jobsystem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/me/jobsys/pkg/model"
)

// Job is a unit of work scheduled by a System.
//
// Execute is called at most once, by exactly one worker, and never
// concurrently. Output is only meaningful after Execute returns. OnRetire
// runs exactly once after the job is COMPLETED, before the System drops it.
type Job interface {
	ID() int
	Type() string
	ChannelMask() model.ChannelMask
	Dependencies() []int

	Execute(ctx context.Context)
	Output() json.RawMessage
	OnRetire(ctx context.Context) error
}

// Base carries the scheduler-facing fields of a job. Job kinds embed *Base
// and implement Execute; the System allocates Bases through CreateJob or
// NewBase so IDs stay unique per System.
type Base struct {
	id       int
	typeName string
	channels model.ChannelMask
	maskSet  bool
	deps     []int
	output   json.RawMessage
}

func (b *Base) ID() int                        { return b.id }
func (b *Base) Type() string                   { return b.typeName }
func (b *Base) ChannelMask() model.ChannelMask { return b.channels }

// Dependencies returns a copy of the dependency IDs in declaration order.
func (b *Base) Dependencies() []int { return slices.Clone(b.deps) }

// SetChannelMask replaces the channel mask. Only valid before submission.
func (b *Base) SetChannelMask(m model.ChannelMask) {
	b.channels = m
	b.maskSet = true
}

// SetDefaultChannelMask sets the mask unless one was given explicitly,
// letting a kind route to its usual channel.
func (b *Base) SetDefaultChannelMask(m model.ChannelMask) {
	if !b.maskSet {
		b.channels = m
	}
}

// AddDependency declares that this job must wait for jobID. Duplicates are
// ignored. Only valid before submission.
func (b *Base) AddDependency(jobID int) {
	if !slices.Contains(b.deps, jobID) {
		b.deps = append(b.deps, jobID)
	}
}

// Output returns the recorded result, or nil before SetOutput was called.
func (b *Base) Output() json.RawMessage { return b.output }

// SetOutput marshals v as the job's result.
func (b *Base) SetOutput(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("job %d: marshal output: %w", b.id, err)
	}
	b.output = data
	return nil
}

// SetRawOutput stores an already-encoded result.
func (b *Base) SetRawOutput(raw json.RawMessage) {
	b.output = bytes.Clone(raw)
}

// OnRetire is a no-op; kinds that persist results override it.
func (b *Base) OnRetire(context.Context) error { return nil }

// universalFields are the input fields every job description may carry.
// Every other field is opaque payload for the job kind.
type universalFields struct {
	Channels     *model.ChannelMask `json:"jobChannels"`
	Dependencies []int              `json:"dependencies"`
}

func parseUniversal(input json.RawMessage) (universalFields, error) {
	var u universalFields
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return u, nil
	}
	if trimmed[0] != '{' {
		return u, fmt.Errorf("%w: expected a JSON object", ErrInvalidInput)
	}
	if err := json.Unmarshal(trimmed, &u); err != nil {
		return u, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return u, nil
}

// outputSetter is satisfied by every kind that embeds *Base.
type outputSetter interface {
	SetOutput(v any) error
}

// FailureOutput is the payload recorded for a job whose Execute panicked.
type FailureOutput struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}
