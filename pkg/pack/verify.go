package pack

import (
	"errors"
	"fmt"
)

// VerificationPolicy controls signature verification. Verify=false
// bypasses all checks with a warning; Strict turns missing
// signatures into a hard failure.
type VerificationPolicy struct {
	Verify bool
	Strict bool
}

// VerificationOutcome accumulates non-fatal verification warnings.
type VerificationOutcome struct {
	Warnings []string
}

// Verify applies the signature policy to a loaded pack. Signatures
// are checked for presence and non-empty payloads only; the
// cryptographic check is an external collaborator's job. A present
// signature with an empty payload fails even in permissive mode.
func Verify(info *Info, policy VerificationPolicy) (*VerificationOutcome, error) {
	outcome := &VerificationOutcome{}

	if !policy.Verify {
		outcome.Warnings = append(outcome.Warnings, "pack verification skipped (--verify=false)")
		return outcome, nil
	}

	if len(info.Manifest.Signatures) == 0 {
		if policy.Strict {
			return nil, errors.New("pack missing signatures; pass --verify=false to bypass")
		}
		outcome.Warnings = append(outcome.Warnings, "pack has no signatures; continuing in permissive mode")
		return outcome, nil
	}

	for _, sig := range info.Manifest.Signatures {
		if len(sig.Payload) == 0 {
			return nil, fmt.Errorf("invalid signature for key_id=%s (empty payload)", sig.KeyID)
		}
	}
	return outcome, nil
}
