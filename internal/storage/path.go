package storage

import (
	"fmt"
	"regexp"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// ValidateComponent checks one path segment of an object key or staging
// directory: it must not be empty, start with a separator-ish character,
// or smuggle '/' into a key.
func ValidateComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}

// CSVObjectKey builds the object key for one CSV stream written under a
// directory prefix. The prefix may be empty (bucket root) and the name
// is validated so stream names cannot escape the directory.
func CSVObjectKey(prefix, name string) (string, error) {
	if err := ValidateComponent(name, "stream name"); err != nil {
		return "", err
	}
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + name + ".csv", nil
}
