package env

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var keyRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseSpecs parses `KEY=VALUE` specs, a bare `KEY` takes its value from the current
// process environment.
func ParseSpecs(specs []string) (map[string]string, error) {
	vars := make(map[string]string, len(specs))

	for _, spec := range specs {
		key, value, hasValue := strings.Cut(spec, "=")
		if key == "" {
			return nil, fmt.Errorf("environment variable %q has no key", spec)
		}
		if !keyRegexp.MatchString(key) {
			return nil, fmt.Errorf("invalid environment variable key %q", key)
		}

		if !hasValue {
			v, ok := os.LookupEnv(key)
			if !ok {
				return nil, fmt.Errorf("environment variable %q is not set", key)
			}
			value = v
		}

		vars[key] = value
	}

	return vars, nil
}

// Merge returns a new map with the override variables on top of the base ones.
func Merge(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}

	return merged
}

// List returns the variables as sorted `KEY=VALUE` entries, the format used by
// exec.Cmd.Env.
func List(vars map[string]string) []string {
	l := make([]string, 0, len(vars))
	for k, v := range vars {
		l = append(l, k+"="+v)
	}
	sort.Strings(l)

	return l
}
