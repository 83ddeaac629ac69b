// Package dotenv fills the process environment from a .env-style file so
// local runs can keep API keys and connection strings out of the shell.
// Real environment variables always win over file values.
package dotenv

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

type pair struct {
	key   string
	value string
}

// LoadFile reads path and sets every parsed key that is not already
// present in the environment. A missing file is a no-op.
func LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read env file %q: %w", path, err)
	}

	for _, p := range parse(string(raw)) {
		if _, exists := os.LookupEnv(p.key); exists {
			continue
		}
		if err := os.Setenv(p.key, p.value); err != nil {
			return fmt.Errorf("set env %q from %q: %w", p.key, path, err)
		}
	}
	return nil
}

// parse extracts KEY=VALUE pairs in file order. Blank lines, comments
// and lines without an assignment are skipped; an "export " prefix is
// tolerated so shell-sourceable files load unchanged.
func parse(content string) []pair {
	var pairs []pair
	for _, line := range strings.Split(content, "\n") {
		if p, ok := parseLine(line); ok {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

func parseLine(line string) (pair, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return pair{}, false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return pair{}, false
	}
	return pair{key: key, value: unquote(strings.TrimSpace(value))}, true
}

// unquote strips one level of matching single or double quotes.
func unquote(value string) string {
	if len(value) < 2 {
		return value
	}
	first, last := value[0], value[len(value)-1]
	if first == last && (first == '"' || first == '\'') {
		return value[1 : len(value)-1]
	}
	return value
}
