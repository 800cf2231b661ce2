package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Loader loads and validates plift settings.
type Loader struct {
	ctx       *cue.Context
	validator *validator.Validate
}

// NewLoader creates a new settings loader.
func NewLoader() *Loader {
	return &Loader{
		ctx:       cuecontext.New(),
		validator: validator.New(),
	}
}

// Load builds settings from defaults overlaid with the given file. An empty
// path loads defaults only. The file format is chosen by extension: .cue,
// .yaml/.yml, or .json.
func (l *Loader) Load(path string) (*Settings, error) {
	settings := Default()

	if path != "" {
		if err := l.loadFile(path, settings); err != nil {
			return nil, err
		}
	}

	settings.Normalize()

	if err := l.Validate(settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// loadFile decodes the settings file over the current values. Absent keys
// leave the existing values untouched.
func (l *Loader) loadFile(path string, settings *Settings) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return l.decodeCUE(path, content, settings)
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, settings); err != nil {
			return fmt.Errorf("failed to parse settings file %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(content, settings); err != nil {
			return fmt.Errorf("failed to parse settings file %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported settings format: %s", filepath.Ext(path))
	}

	return nil
}

// decodeCUE compiles a CUE settings file and decodes it into the settings.
func (l *Loader) decodeCUE(path string, content []byte, settings *Settings) error {
	val := l.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to parse settings file %s: %s", path, cueerrors.Details(err, nil))
	}

	if err := val.Decode(settings); err != nil {
		return fmt.Errorf("failed to decode settings file %s: %s", path, cueerrors.Details(err, nil))
	}

	return nil
}

// Validate checks struct tags and cross-field rules.
func (l *Loader) Validate(settings *Settings) error {
	if err := l.validator.Struct(settings); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	if settings.Mode == "json" && settings.AnswersPath == "" {
		return fmt.Errorf("json mode requires an answers file")
	}

	if settings.Mode == "pubsub" && settings.BrokerURL == "" {
		return fmt.Errorf("pubsub mode requires a broker URL")
	}

	if settings.TraceExporter == "otlp" && settings.TraceEndpoint == "" {
		return fmt.Errorf("otlp trace exporter requires an endpoint")
	}

	return nil
}
