// Package pack loads and verifies platform pack archives: tar files
// carrying a manifest, declarative flow documents, and opaque
// component blobs.
package pack

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Archive entry names.
const (
	manifestCBOREntry = "manifest.cbor"
	manifestJSONEntry = "manifest.json"
	flowEntryPrefix   = "flows/"
	flowEntrySuffix   = ".json"
)

// Default bootstrap names used when the manifest omits them.
const (
	DefaultInstallFlow        = "platform_install"
	DefaultUpgradeFlow        = "platform_upgrade"
	DefaultInstallerComponent = "installer"
)

// Manifest describes a pack: identity, declared flows, optional
// bootstrap metadata, and signatures.
type Manifest struct {
	Name       string         `json:"name" cbor:"name"`
	Version    string         `json:"version" cbor:"version"`
	Flows      []FlowEntry    `json:"flows,omitempty" cbor:"flows,omitempty"`
	Bootstrap  *BootstrapSpec `json:"bootstrap,omitempty" cbor:"bootstrap,omitempty"`
	Signatures []Signature    `json:"signatures,omitempty" cbor:"signatures,omitempty"`
}

// FlowEntry declares a flow shipped in the pack.
type FlowEntry struct {
	ID    string `json:"id" cbor:"id"`
	Title string `json:"title,omitempty" cbor:"title,omitempty"`
}

// BootstrapSpec overrides the default bootstrap flow and installer
// names.
type BootstrapSpec struct {
	InstallFlow        string `json:"install_flow,omitempty" cbor:"install_flow,omitempty"`
	UpgradeFlow        string `json:"upgrade_flow,omitempty" cbor:"upgrade_flow,omitempty"`
	InstallerComponent string `json:"installer_component,omitempty" cbor:"installer_component,omitempty"`
}

// Signature is a detached pack signature. Cryptographic validation
// happens outside this subsystem; here only presence and a non-empty
// payload are checked.
type Signature struct {
	KeyID   string `json:"key_id" cbor:"key_id"`
	Payload []byte `json:"payload" cbor:"payload"`
}

// decodeManifest decodes manifest bytes, CBOR or JSON depending on
// the archive entry they came from.
func decodeManifest(name string, data []byte) (Manifest, error) {
	var m Manifest
	switch name {
	case manifestCBOREntry:
		if err := cbor.Unmarshal(data, &m); err != nil {
			return Manifest{}, fmt.Errorf("decode %s: %w", name, err)
		}
	case manifestJSONEntry:
		if err := json.Unmarshal(data, &m); err != nil {
			return Manifest{}, fmt.Errorf("decode %s: %w", name, err)
		}
	default:
		return Manifest{}, fmt.Errorf("unsupported manifest entry %q", name)
	}
	return m, nil
}

// BootstrapResolution carries the flow and installer names the
// orchestrator should use, after defaults and validation.
type BootstrapResolution struct {
	InstallFlow        string
	UpgradeFlow        string
	InstallerComponent string
}

// ResolveBootstrap applies bootstrap defaults and validates that
// both flows are declared by the manifest.
func ResolveBootstrap(m Manifest) (*BootstrapResolution, error) {
	res := &BootstrapResolution{
		InstallFlow:        DefaultInstallFlow,
		UpgradeFlow:        DefaultUpgradeFlow,
		InstallerComponent: DefaultInstallerComponent,
	}
	if b := m.Bootstrap; b != nil {
		if b.InstallFlow != "" {
			res.InstallFlow = b.InstallFlow
		}
		if b.UpgradeFlow != "" {
			res.UpgradeFlow = b.UpgradeFlow
		}
		if b.InstallerComponent != "" {
			res.InstallerComponent = b.InstallerComponent
		}
	}
	if err := ensureFlowExists(m, res.InstallFlow); err != nil {
		return nil, err
	}
	if err := ensureFlowExists(m, res.UpgradeFlow); err != nil {
		return nil, err
	}
	return res, nil
}

func ensureFlowExists(m Manifest, flowID string) error {
	for _, f := range m.Flows {
		if f.ID == flowID {
			return nil
		}
	}
	return fmt.Errorf("bootstrap flow %q not declared in pack manifest", flowID)
}
