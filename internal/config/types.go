package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration that loads from config strings like "30s"
// and rejects negative values at parse time. Text marshaling covers
// JSON and YAML as well, so one method pair serves every format.
type Duration time.Duration

// Duration returns the plain time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText renders the duration in time.Duration notation ("1m30s").
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses time.Duration notation. Every config duration is
// a timeout or interval, so negative values are rejected here rather
// than in each consumer's Validate.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// redactedPlaceholder replaces secret values in any rendered output.
const redactedPlaceholder = "[REDACTED]"

// Secret is a credential-bearing string. Formatting and marshaling in
// any direction out of the process produce a fixed placeholder; only
// Value returns the real string. Unmarshaling accepts raw values, which
// is how tokens arrive from config files and the environment.
type Secret string

// Value returns the actual secret.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a value is present.
func (s Secret) IsSet() bool { return s != "" }

// String implements fmt.Stringer. Empty secrets stay empty so optional
// fields don't render a placeholder where nothing was configured.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redactedPlaceholder
}

// GoString keeps %#v output redacted too.
func (s Secret) GoString() string {
	return "Secret(" + redactedPlaceholder + ")"
}

// MarshalText redacts. encoding/json and yaml both fall back to text
// marshaling, so this single method covers every serialization path.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText stores the raw value.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
