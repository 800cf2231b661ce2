package flow

import "encoding/json"

// SecretWrite is one secret the installer wants persisted. Value is
// a pointer so an absent value is distinguishable from an empty
// string; bootstrap mode requires concrete values.
type SecretWrite struct {
	Key      string          `json:"key"`
	Value    *string         `json:"value,omitempty"`
	Scope    string          `json:"scope,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Output is the installer's final declarative result: an opaque
// configuration patch, the secrets to write, and the ready verdict.
type Output struct {
	OutputVersion string          `json:"output_version"`
	ConfigPatch   json.RawMessage `json:"config_patch,omitempty"`
	SecretsWrites []SecretWrite   `json:"secrets_writes,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
	Ready         bool            `json:"ready"`
}

// Redacted returns a copy safe for logs and journals: secret values
// are cleared, everything else intact.
func (o *Output) Redacted() *Output {
	redacted := *o
	redacted.SecretsWrites = make([]SecretWrite, len(o.SecretsWrites))
	for i, sw := range o.SecretsWrites {
		redacted.SecretsWrites[i] = SecretWrite{
			Key:      sw.Key,
			Scope:    sw.Scope,
			Metadata: sw.Metadata,
		}
	}
	return &redacted
}

// Result is a completed flow execution: the final output and the
// ordered status history for diagnostics and audit.
type Result struct {
	Output  *Output
	History []string
}
