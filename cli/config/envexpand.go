// Package config loads propwatch.yaml config files and serve seed files.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

// envRef matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:[-?])([^}]*))?\}`)

// MissingEnvError reports a ${VAR:?message} reference whose variable is
// unset or empty.
type MissingEnvError struct {
	Name    string
	Message string
}

func (e *MissingEnvError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("environment variable %s is required", e.Name)
	}
	return fmt.Sprintf("environment variable %s is required: %s", e.Name, e.Message)
}

// ExpandEnv substitutes environment references in input.
//
// ${VAR} expands to the value of VAR, or "" when unset. ${VAR:-default}
// uses default when VAR is unset or empty. ${VAR:?message} fails with a
// *MissingEnvError instead; every such failure is reported.
func ExpandEnv(input string) (string, error) {
	var missing []error
	out := envRef.ReplaceAllStringFunc(input, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		name, op, arg := m[1], m[2], m[3]
		if v := os.Getenv(name); v != "" {
			return v
		}
		switch op {
		case ":-":
			return arg
		case ":?":
			missing = append(missing, &MissingEnvError{Name: name, Message: arg})
		}
		return ""
	})
	return out, errors.Join(missing...)
}

// ReadExpanded reads a YAML file and expands its environment references.
// what names the file in errors ("config", "seed").
func ReadExpanded(path, what string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s file not found: %s", what, path)
		}
		return nil, fmt.Errorf("cannot read %s file %q: %w", what, path, err)
	}
	expanded, err := ExpandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s file %s: %w", what, path, err)
	}
	return []byte(expanded), nil
}
