package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/nikmy/remotetx/pkg/errors"
)

// Load decodes the yaml file at path into dst. Fields absent from the
// file keep the values dst already holds, so callers pre-fill defaults.
func Load[T any](path string, dst *T) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.WrapFail(err, "build path to config")
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return errors.WrapFailf(err, "read %q", abs)
	}

	return Parse(data, dst)
}

func Parse[T any](data []byte, dst *T) error {
	err := yaml.Unmarshal(data, dst)
	return errors.WrapFail(err, "parse yaml")
}
