package logging

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/changelogd/internal/config"
	"github.com/fyrsmithlabs/changelogd/pkg/safepattern"
)

// redactMatchTimeout bounds each redaction pattern match. Patterns come
// from config and run against every string field, so a pathological one
// must not stall the log path.
const redactMatchTimeout = 50 * time.Millisecond

// Secret renders a config.Secret as a length-only placeholder.
func Secret(key string, val config.Secret) zap.Field {
	return zap.String(key, fmt.Sprintf("[REDACTED:%d]", len(val.Value())))
}

// RedactedString masks val, keeping only its length for diagnostics.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, fmt.Sprintf("[REDACTED:%d]", len(val)))
}

// redactor holds compiled redaction rules, shared across encoder clones.
type redactor struct {
	names    map[string]struct{}
	patterns []*safepattern.SafePattern
}

func newRedactor(cfg RedactionConfig) (*redactor, error) {
	r := &redactor{names: make(map[string]struct{}, len(cfg.Fields))}
	for _, name := range cfg.Fields {
		r.names[strings.ToLower(name)] = struct{}{}
	}
	for _, raw := range cfg.Patterns {
		p, err := safepattern.CompileWithTimeout(raw, redactMatchTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern: %w", err)
		}
		r.patterns = append(r.patterns, p)
	}
	return r, nil
}

// sensitiveKey reports whether the field name itself marks a secret.
func (r *redactor) sensitiveKey(key string) bool {
	_, ok := r.names[strings.ToLower(key)]
	return ok
}

// sensitiveValue reports whether any pattern matches val. A match call
// that times out counts as a match: redacting too much beats leaking.
func (r *redactor) sensitiveValue(val string) bool {
	for _, p := range r.patterns {
		if ok, err := p.Match(val); ok || err != nil {
			return true
		}
	}
	return false
}

// redactingEncoder masks sensitive fields as they are encoded. Key-based
// redaction covers every field kind; pattern matching applies to string
// values only.
type redactingEncoder struct {
	zapcore.Encoder
	rules *redactor
}

// newRedactingEncoder wraps base with the rules in cfg. A disabled
// config returns base unchanged.
func newRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (zapcore.Encoder, error) {
	if !cfg.Enabled {
		return base, nil
	}
	rules, err := newRedactor(cfg)
	if err != nil {
		return nil, err
	}
	return &redactingEncoder{Encoder: base, rules: rules}, nil
}

func (e *redactingEncoder) AddString(key, val string) {
	switch {
	case e.rules.sensitiveKey(key):
		e.Encoder.AddString(key, "[REDACTED]")
	case e.rules.sensitiveValue(val):
		e.Encoder.AddString(key, "[REDACTED:pattern]")
	default:
		e.Encoder.AddString(key, val)
	}
}

func (e *redactingEncoder) AddByteString(key string, val []byte) {
	if e.rules.sensitiveKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *redactingEncoder) AddBinary(key string, val []byte) {
	if e.rules.sensitiveKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return
	}
	e.Encoder.AddBinary(key, val)
}

func (e *redactingEncoder) AddReflected(key string, val any) error {
	if e.rules.sensitiveKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *redactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.rules.sensitiveKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *redactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.rules.sensitiveKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *redactingEncoder) Clone() zapcore.Encoder {
	return &redactingEncoder{Encoder: e.Encoder.Clone(), rules: e.rules}
}
