// Package config provides settings loading and validation for plift.
//
// Settings are built in three layers: compiled-in defaults, an optional
// settings file, and CLI flags. The settings file may be CUE, YAML, or
// JSON; keys absent from the file keep their default values.
//
//	loader := config.NewLoader()
//	settings, err := loader.Load("/etc/packlift/settings.cue")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Validation combines struct tags (go-playground/validator) with
// cross-field rules, such as requiring an answers file in json mode.
package config
