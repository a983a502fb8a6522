package driver

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedScheme reports a URL whose scheme has no registered
	// driver.
	ErrUnsupportedScheme = errors.New("unsupported scheme")

	// ErrInvalidLocator reports a URL that named a known driver but broke
	// its structural rules.
	ErrInvalidLocator = errors.New("invalid locator")
)

// UnsupportedOptionError reports a user option the chosen driver cannot
// honor. Subject reads as it appears to the user ("this data source" or
// "this data destination").
type UnsupportedOptionError struct {
	Subject string
	Option  string
}

func (e *UnsupportedOptionError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Subject, e.Option)
}

// NoPathError reports that no transfer path exists between two locators.
type NoPathError struct {
	Source string
	Dest   string
}

func (e *NoPathError) Error() string {
	return fmt.Sprintf("no transfer path from %s to %s", e.Source, e.Dest)
}

// InvalidLocator builds an ErrInvalidLocator with the offending URL
// embedded, for use by driver constructors.
func InvalidLocator(rawURL, format string, args ...any) error {
	return fmt.Errorf("%w %q: %s", ErrInvalidLocator, rawURL, fmt.Sprintf(format, args...))
}
