package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrNoOutput is returned when a flow finishes without a single
// installer_call step.
var ErrNoOutput = errors.New("bootstrap flow produced no installer_call output")

// flowSchemaJSON constrains the flow document shape before the
// interpreter sees it.
const flowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["steps"],
  "properties": {
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind"],
        "properties": {
          "kind": {"type": "string"},
          "questions": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["id", "prompt"],
              "properties": {
                "id": {"type": "string"},
                "prompt": {"type": "string"},
                "default": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

// outputSchemaJSON constrains the installer's embedded result.
const outputSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["output_version", "ready"],
  "properties": {
    "output_version": {"type": "string"},
    "ready": {"type": "boolean"},
    "warnings": {"type": "array", "items": {"type": "string"}},
    "secrets_writes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["key"],
        "properties": {
          "key": {"type": "string"},
          "value": {"type": "string"},
          "scope": {"type": "string"}
        }
      }
    }
  }
}`

// Runner executes bootstrap flows. Step kinds form a strict
// allow-list: installer_call and prompt, nothing else.
type Runner struct {
	logger       zerolog.Logger
	flowSchema   *jsonschema.Schema
	outputSchema *jsonschema.Schema
}

// NewRunner compiles the flow and output schemas once and returns a
// reusable Runner.
func NewRunner(logger zerolog.Logger) (*Runner, error) {
	flowSchema, err := compileSchema("flow.json", flowSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile flow schema: %w", err)
	}
	outputSchema, err := compileSchema("output.json", outputSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile output schema: %w", err)
	}
	return &Runner{
		logger:       logger,
		flowSchema:   flowSchema,
		outputSchema: outputSchema,
	}, nil
}

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	url := "inmemory://" + name
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, strings.NewReader(src)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// Run interprets a flow document against the given adapter. The
// returned history starts at waiting_for_answers and ends with
// completed or failed depending on the output's ready flag.
func (r *Runner) Run(ctx context.Context, doc []byte, adapter Adapter) (*Result, error) {
	var generic any
	if err := json.Unmarshal(doc, &generic); err != nil {
		return nil, fmt.Errorf("invalid flow document: %w", err)
	}
	if err := r.flowSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("invalid flow document: %w", err)
	}
	var flowDoc document
	if err := json.Unmarshal(doc, &flowDoc); err != nil {
		return nil, fmt.Errorf("invalid flow document: %w", err)
	}

	history := []string{StatusWaitingForAnswers}
	var output *Output

	for _, st := range flowDoc.Steps {
		switch st.Kind {
		case StepInstallerCall:
			history = append(history, StatusDeploying)
			if len(st.Result) == 0 || string(st.Result) == "null" {
				return nil, errors.New("installer_call missing result")
			}
			parsed, err := r.decodeOutput(st.Result)
			if err != nil {
				return nil, err
			}
			// Last installer_call wins.
			output = parsed

		case StepPrompt:
			history = append(history, StatusValidating)
			// Answers are accepted but not substituted into later
			// steps; placeholder tokens in the installer result
			// survive into the final output.
			if _, err := adapter.Ask(ctx, st.Questions); err != nil {
				return nil, err
			}
			history = append(history, StatusApplyingConfig)

		default:
			return nil, &UnsupportedStepError{Kind: st.Kind}
		}
	}

	if output == nil {
		return nil, ErrNoOutput
	}
	if output.Ready {
		history = append(history, StatusCompleted)
	} else {
		history = append(history, StatusFailed)
	}

	r.logger.Debug().
		Strs("history", history).
		Bool("ready", output.Ready).
		Msg("Bootstrap flow executed")
	return &Result{Output: output, History: history}, nil
}

func (r *Runner) decodeOutput(raw json.RawMessage) (*Output, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("invalid bootstrap output: %w", err)
	}
	if err := r.outputSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("invalid bootstrap output: %w", err)
	}
	var out Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("invalid bootstrap output: %w", err)
	}
	return &out, nil
}
