// Package interaction implements the transports for asking an
// installer's questions and collecting answers: terminal,
// pre-supplied JSON, an ephemeral HTTP listener, and
// publish/subscribe. All adapters share one invariant: every
// question receives exactly one answer, defaults fill gaps, and a
// required question without an answer is a hard failure.
package interaction

import (
	"errors"
	"fmt"

	"github.com/packlift/packlift/pkg/flow"
	"github.com/packlift/packlift/pkg/netpolicy"
)

// ErrTimeout is returned when no answers arrive within the
// adapter's timeout.
var ErrTimeout = errors.New("timed out waiting for bootstrap answers")

// ErrPromptsDenied is returned by the deny adapter.
var ErrPromptsDenied = errors.New("interactive prompts are disabled by policy")

// MissingAnswerError reports a required question the answer source
// did not cover.
type MissingAnswerError struct {
	ID string
}

func (e *MissingAnswerError) Error() string {
	return fmt.Sprintf("missing answer for question %q", e.ID)
}

// NoInputError reports an empty terminal line for a question with no
// default.
type NoInputError struct {
	ID string
}

func (e *NoInputError) Error() string {
	return fmt.Sprintf("no input provided for %s", e.ID)
}

// mergeAnswers applies the shared adapter invariant: one entry per
// question, defaulting when unanswered, failing when required and
// absent.
func mergeAnswers(questions []flow.Question, answers map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(questions))
	for _, q := range questions {
		if v, ok := answers[q.ID]; ok {
			merged[q.ID] = v
			continue
		}
		if q.HasDefault() {
			merged[q.ID] = q.Default
			continue
		}
		return nil, &MissingAnswerError{ID: q.ID}
	}
	return merged, nil
}

// schemaPayload is the question list serialized for the HTTP and
// pub/sub transports.
type schemaPayload struct {
	Questions []flow.Question `json:"questions"`
}

// Mode names an interaction transport.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeTerminal Mode = "terminal"
	ModeJSON     Mode = "json"
	ModeHTTP     Mode = "http"
	ModePubSub   Mode = "pubsub"
)

// ParseMode validates a mode string from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, ModeTerminal, ModeJSON, ModeHTTP, ModePubSub:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown interaction mode %q (want auto, terminal, json, http, or pubsub)", s)
}

// Capabilities captures what the host policy permits, with the
// reasons anything is disabled. Listener transports need network
// access and no offline mode; pub/sub additionally requires a
// configured allowlist.
type Capabilities struct {
	AllowListeners      bool
	NetworkAllowed      bool
	Offline             bool
	AllowlistConfigured bool
	DisabledReasons     []string
}

// BuildCapabilities derives Capabilities from the listener toggle
// and the network policy. A nil policy counts as network access
// fully disabled.
func BuildCapabilities(allowListeners bool, policy *netpolicy.Policy) Capabilities {
	caps := Capabilities{AllowListeners: allowListeners}
	if !allowListeners {
		caps.DisabledReasons = append(caps.DisabledReasons, "listeners disabled (--allow-listeners=false)")
	}
	if policy == nil {
		caps.DisabledReasons = append(caps.DisabledReasons, "no network policy configured")
		return caps
	}
	caps.NetworkAllowed = policy.AllowNetwork()
	caps.Offline = policy.OfflineOnly()
	caps.AllowlistConfigured = policy.AllowlistConfigured()
	if !caps.NetworkAllowed {
		caps.DisabledReasons = append(caps.DisabledReasons, "network access disabled (--allow-network=false)")
	}
	if caps.Offline {
		caps.DisabledReasons = append(caps.DisabledReasons, "offline-only mode active")
	}
	if !caps.AllowlistConfigured {
		caps.DisabledReasons = append(caps.DisabledReasons, "no network allowlist configured")
	}
	return caps
}

// HTTPAvailable reports whether the HTTP listener transport may run.
func (c Capabilities) HTTPAvailable() bool {
	return c.AllowListeners && c.NetworkAllowed && !c.Offline
}

// PubSubAvailable reports whether the pub/sub transport may run.
func (c Capabilities) PubSubAvailable() bool {
	return c.HTTPAvailable() && c.AllowlistConfigured
}

// AdaptersForMode returns the transports usable for the requested
// mode, in preference order. Auto prefers pre-supplied answers over
// prompting and never selects a listener transport implicitly.
func AdaptersForMode(mode Mode, caps Capabilities, answersSupplied bool) ([]Mode, error) {
	switch mode {
	case ModeTerminal:
		return []Mode{ModeTerminal}, nil
	case ModeJSON:
		return []Mode{ModeJSON}, nil
	case ModeHTTP:
		if !caps.HTTPAvailable() {
			return nil, fmt.Errorf("interaction mode %q unavailable: %s", mode, firstReason(caps))
		}
		return []Mode{ModeHTTP}, nil
	case ModePubSub:
		if !caps.PubSubAvailable() {
			return nil, fmt.Errorf("interaction mode %q unavailable: %s", mode, firstReason(caps))
		}
		return []Mode{ModePubSub}, nil
	case ModeAuto:
		if answersSupplied {
			return []Mode{ModeJSON, ModeTerminal}, nil
		}
		return []Mode{ModeTerminal}, nil
	}
	return nil, fmt.Errorf("unknown interaction mode %q", mode)
}

func firstReason(caps Capabilities) string {
	if len(caps.DisabledReasons) > 0 {
		return caps.DisabledReasons[0]
	}
	return "transport not permitted"
}
