package flow

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// stubAdapter answers every question from a fixed map, recording
// what it was asked.
type stubAdapter struct {
	answers map[string]any
	asked   [][]Question
	err     error
}

func (s *stubAdapter) Ask(ctx context.Context, questions []Question) (map[string]any, error) {
	s.asked = append(s.asked, questions)
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]any, len(questions))
	for _, q := range questions {
		if v, ok := s.answers[q.ID]; ok {
			out[q.ID] = v
			continue
		}
		out[q.ID] = q.Default
	}
	return out, nil
}

func testRunner(t *testing.T) *Runner {
	t.Helper()
	r, err := NewRunner(zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return r
}

func TestRunPromptThenInstallerCall(t *testing.T) {
	doc := []byte(`{
		"steps": [
			{"kind": "prompt", "questions": [{"id": "region", "prompt": "Region?", "default": "us-east-1"}]},
			{"kind": "installer_call", "result": {
				"output_version": "v1",
				"config_patch": {"region": "{{region}}"},
				"secrets_writes": [{"key": "api_token", "value": "tok-123"}],
				"ready": true
			}}
		]
	}`)

	adapter := &stubAdapter{answers: map[string]any{"region": "eu-west-1"}}
	result, err := testRunner(t).Run(context.Background(), doc, adapter)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	wantHistory := []string{
		StatusWaitingForAnswers,
		StatusValidating,
		StatusApplyingConfig,
		StatusDeploying,
		StatusCompleted,
	}
	if !reflect.DeepEqual(result.History, wantHistory) {
		t.Errorf("History = %v, want %v", result.History, wantHistory)
	}

	if len(adapter.asked) != 1 || len(adapter.asked[0]) != 1 || adapter.asked[0][0].ID != "region" {
		t.Errorf("adapter asked %v, want one region question", adapter.asked)
	}

	// Prompt answers are not fed back: the placeholder must survive
	// into the final config patch.
	if !strings.Contains(string(result.Output.ConfigPatch), "{{region}}") {
		t.Errorf("config patch = %s, want placeholder preserved", result.Output.ConfigPatch)
	}

	if len(result.Output.SecretsWrites) != 1 || result.Output.SecretsWrites[0].Key != "api_token" {
		t.Errorf("secrets writes = %+v, want api_token entry", result.Output.SecretsWrites)
	}
}

func TestRunUnsupportedStep(t *testing.T) {
	doc := []byte(`{"steps": [{"kind": "shell_exec"}]}`)

	result, err := testRunner(t).Run(context.Background(), doc, &stubAdapter{})
	if result != nil {
		t.Fatal("expected no result for unsupported step")
	}
	var unsupported *UnsupportedStepError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected *UnsupportedStepError, got %v", err)
	}
	if unsupported.Kind != "shell_exec" {
		t.Errorf("Kind = %q, want shell_exec", unsupported.Kind)
	}
}

func TestRunLastInstallerCallWins(t *testing.T) {
	doc := []byte(`{
		"steps": [
			{"kind": "installer_call", "result": {"output_version": "v1", "ready": false}},
			{"kind": "installer_call", "result": {"output_version": "v2", "ready": true}}
		]
	}`)

	result, err := testRunner(t).Run(context.Background(), doc, &stubAdapter{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Output.OutputVersion != "v2" {
		t.Errorf("OutputVersion = %q, want v2", result.Output.OutputVersion)
	}
	wantHistory := []string{
		StatusWaitingForAnswers,
		StatusDeploying,
		StatusDeploying,
		StatusCompleted,
	}
	if !reflect.DeepEqual(result.History, wantHistory) {
		t.Errorf("History = %v, want %v", result.History, wantHistory)
	}
}

func TestRunNoInstallerCall(t *testing.T) {
	doc := []byte(`{
		"steps": [
			{"kind": "prompt", "questions": [{"id": "q", "prompt": "Q?", "default": "d"}]}
		]
	}`)

	_, err := testRunner(t).Run(context.Background(), doc, &stubAdapter{})
	if !errors.Is(err, ErrNoOutput) {
		t.Fatalf("expected ErrNoOutput, got %v", err)
	}
}

func TestRunNotReadyEndsFailed(t *testing.T) {
	doc := []byte(`{
		"steps": [
			{"kind": "installer_call", "result": {"output_version": "v1", "ready": false}}
		]
	}`)

	result, err := testRunner(t).Run(context.Background(), doc, &stubAdapter{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	last := result.History[len(result.History)-1]
	if last != StatusFailed {
		t.Errorf("final status = %q, want %q", last, StatusFailed)
	}
}

func TestRunInstallerCallMissingResult(t *testing.T) {
	for _, doc := range []string{
		`{"steps": [{"kind": "installer_call"}]}`,
		`{"steps": [{"kind": "installer_call", "result": null}]}`,
	} {
		_, err := testRunner(t).Run(context.Background(), []byte(doc), &stubAdapter{})
		if err == nil || !strings.Contains(err.Error(), "missing result") {
			t.Errorf("doc %s: error = %v, want missing result", doc, err)
		}
	}
}

func TestRunAdapterErrorPropagates(t *testing.T) {
	doc := []byte(`{
		"steps": [
			{"kind": "prompt", "questions": [{"id": "q", "prompt": "Q?"}]}
		]
	}`)

	wantErr := errors.New("transport unavailable")
	_, err := testRunner(t).Run(context.Background(), doc, &stubAdapter{err: wantErr})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected adapter error, got %v", err)
	}
}

func TestRunRejectsMalformedDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"not json", `not-json`, "invalid flow document"},
		{"steps missing", `{}`, "invalid flow document"},
		{"steps not array", `{"steps": {}}`, "invalid flow document"},
		{
			"output missing version",
			`{"steps": [{"kind": "installer_call", "result": {"ready": true}}]}`,
			"invalid bootstrap output",
		},
		{
			"output ready not boolean",
			`{"steps": [{"kind": "installer_call", "result": {"output_version": "v1", "ready": "yes"}}]}`,
			"invalid bootstrap output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testRunner(t).Run(context.Background(), []byte(tt.doc), &stubAdapter{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestOutputRedacted(t *testing.T) {
	value := "super-secret"
	out := &Output{
		OutputVersion: "v1",
		SecretsWrites: []SecretWrite{
			{Key: "api_token", Value: &value, Scope: "platform"},
		},
		Ready: true,
	}

	red := out.Redacted()
	if red.SecretsWrites[0].Value != nil {
		t.Error("redacted output still carries a secret value")
	}
	if red.SecretsWrites[0].Key != "api_token" || red.SecretsWrites[0].Scope != "platform" {
		t.Errorf("redaction dropped non-secret fields: %+v", red.SecretsWrites[0])
	}
	if out.SecretsWrites[0].Value == nil {
		t.Error("Redacted mutated the original output")
	}
}
