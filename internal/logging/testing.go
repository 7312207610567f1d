package logging

import (
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/changelogd/pkg/safepattern"
)

// TestLogger records entries in memory for assertions. It captures at
// TraceLevel so nothing is filtered.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates a TestLogger.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core)},
		observed: observed,
	}
}

// All returns every recorded entry.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns the recorded entries with exactly message msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessage(msg)
}

// Reset discards all recorded entries.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			return
		}
	}
	tb.Errorf("no %v entry containing %q; got %+v", level, msg, t.observed.All())
}

// AssertNotLogged fails tb if any entry at level contains msg.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			tb.Errorf("unexpected %v entry containing %q", level, msg)
		}
	}
}

// AssertField fails tb unless an entry with message msg carries the
// field key with the given value.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.observed.FilterMessage(msg).All() {
		for _, f := range e.Context {
			if f.Key != key {
				continue
			}
			switch f.Type {
			case zapcore.StringType:
				if f.String == want {
					return
				}
			case zapcore.Int64Type, zapcore.Int32Type:
				if n, ok := want.(int); ok && f.Integer == int64(n) {
					return
				}
			default:
				if reflect.DeepEqual(f.Interface, want) {
					return
				}
			}
		}
	}
	tb.Errorf("field %s=%v not found on message %q", key, want, msg)
}

// AssertTraceCorrelation fails tb unless the entry with message msg
// carries a trace_id field.
func (t *TestLogger) AssertTraceCorrelation(tb testing.TB, msg string) {
	tb.Helper()
	for _, e := range t.observed.FilterMessage(msg).All() {
		for _, f := range e.Context {
			if f.Key == "trace_id" {
				return
			}
		}
	}
	tb.Errorf("message %q missing trace_id", msg)
}

// AssertNoSecrets fails tb if any recorded entry carries an unredacted
// sensitive field name or a value matching the default redaction
// patterns.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()

	patterns := make([]*safepattern.SafePattern, 0, len(defaultRedactPatterns))
	for _, raw := range defaultRedactPatterns {
		p, err := safepattern.Compile(raw)
		if err != nil {
			tb.Fatalf("default redaction pattern %q: %v", raw, err)
		}
		patterns = append(patterns, p)
	}

	leaks := func(s string) bool {
		for _, p := range patterns {
			if ok, err := p.Match(s); ok || err != nil {
				return true
			}
		}
		return false
	}

	for _, e := range t.observed.All() {
		if leaks(e.Message) {
			tb.Errorf("secret pattern in message %q", e.Message)
		}
		for _, f := range e.Context {
			if f.Type != zapcore.StringType {
				continue
			}
			redacted := strings.Contains(f.String, "[REDACTED")
			if sensitiveFieldName(f.Key) && f.String != "" && !redacted {
				tb.Errorf("sensitive field %q not redacted: %q", f.Key, f.String)
			}
			if !redacted && leaks(f.String) {
				tb.Errorf("secret pattern in field %q: %q", f.Key, f.String)
			}
		}
	}
}

// sensitiveFieldName reports whether key contains one of the default
// sensitive field names.
func sensitiveFieldName(key string) bool {
	lower := strings.ToLower(key)
	for _, name := range defaultRedactFields {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}
