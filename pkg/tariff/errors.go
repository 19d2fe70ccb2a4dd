package tariff

import (
	"errors"
	"fmt"
)

// ErrNoItems is returned when a tariff document carries no rate structures.
var ErrNoItems = errors.New("tariff document has no items")

// SchemaError is returned when a tariff document is missing required
// structure or the structure is malformed. A SchemaError is fatal to the
// refresh that produced it; callers keep their previous schedule.
type SchemaError struct {
	// Label of the offending item, when known.
	Label  string
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	msg := "invalid tariff document"
	if e.Label != "" {
		msg += " (" + e.Label + ")"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

func schemaErrorf(label string, format string, args ...any) *SchemaError {
	return &SchemaError{Label: label, Reason: fmt.Sprintf(format, args...)}
}

// IsSchemaError reports whether err is or wraps a *SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}
