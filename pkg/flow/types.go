// Package flow interprets the declarative bootstrap flow an
// installer component ships inside a pack: a fixed step list that
// prompts through an interaction adapter and yields the installer's
// final declarative output.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
)

// Statuses recorded in the execution history, in the order the
// interpreter transitions through them.
const (
	StatusWaitingForAnswers = "waiting_for_answers"
	StatusDeploying         = "deploying"
	StatusValidating        = "validating"
	StatusApplyingConfig    = "applying_config"
	StatusCompleted         = "completed"
	StatusFailed            = "failed"
)

// Step kinds allowed in bootstrap mode.
const (
	StepInstallerCall = "installer_call"
	StepPrompt        = "prompt"
)

// Question is a single prompt declared by a flow step.
type Question struct {
	ID      string `json:"id"`
	Prompt  string `json:"prompt"`
	Default string `json:"default,omitempty"`
}

// HasDefault reports whether the question may fall back to a
// default answer.
func (q Question) HasDefault() bool { return q.Default != "" }

// Adapter asks the flow's questions over some interaction transport
// and returns one answer per question.
type Adapter interface {
	Ask(ctx context.Context, questions []Question) (map[string]any, error)
}

// document is the decoded flow file.
type document struct {
	Steps []step `json:"steps"`
}

// step is one entry in the flow's fixed step list.
type step struct {
	Kind      string          `json:"kind"`
	Result    json.RawMessage `json:"result,omitempty"`
	Questions []Question      `json:"questions,omitempty"`
}

// UnsupportedStepError reports a step kind outside the bootstrap
// allow-list.
type UnsupportedStepError struct {
	Kind string
}

func (e *UnsupportedStepError) Error() string {
	return fmt.Sprintf("not allowed in bootstrap mode: %s", e.Kind)
}
