package rules

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/sxn/internal/errors"
)

// fileSpec is one entry of the rules file.
type fileSpec struct {
	Kind         string         `yaml:"kind"`
	Config       map[string]any `yaml:"config"`
	Dependencies []string       `yaml:"dependencies"`
}

type rulesFile struct {
	Rules map[string]fileSpec `yaml:"rules"`
}

// Parse decodes a rules file:
//
//	rules:
//	  secrets:
//	    kind: copy_files
//	    config:
//	      files:
//	        - source: .env
//	  install:
//	    kind: setup_commands
//	    dependencies: [secrets]
//	    config:
//	      commands:
//	        - command: [bundle, install]
//
// Unknown top-level or per-rule keys are rejected. An empty document yields
// an empty Specs.
func Parse(data []byte) (Specs, error) {
	var f rulesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, errors.NewValidationError("invalid rules file").
			WithCause(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err))
	}

	specs := make(Specs, len(f.Rules))
	for name, fs := range f.Rules {
		if name == "" {
			return nil, errors.NewValidationError("rule name must not be empty").
				WithCause(errors.ErrInvalidConfig)
		}
		if fs.Kind == "" {
			return nil, errors.NewValidationError("kind is required").
				WithRule(name).
				WithField("kind").
				WithCause(errors.ErrInvalidConfig)
		}
		specs[name] = Spec{
			Name:         name,
			Kind:         fs.Kind,
			Config:       Config(fs.Config).Clone(),
			Dependencies: fs.Dependencies,
		}
	}
	return specs, nil
}

// LoadFile reads and parses the rules file at path.
func LoadFile(path string) (Specs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read rules file")
	}
	specs, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return specs, nil
}
