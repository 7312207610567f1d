// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// Logging wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Selectable sinks (stdout, stderr, OpenTelemetry log bridge)
//   - Automatic context field injection (trace_id, run.id, request.id)
//   - Encoder-level secret redaction
//   - Sampling below Error (errors never sampled)
//
// # Usage
//
// Create a logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx := logging.WithRunID(ctx, report.RunID)
//	logger.Info(ctx, "distillation complete", zap.Int("changes", n))
//
// Output includes automatic correlation:
//
//	{
//	  "ts": "2026-08-25T10:15:30Z",
//	  "level": "info",
//	  "msg": "distillation complete",
//	  "trace_id": "abc123",
//	  "run.id": "7d1f...",
//	  "changes": 12
//	}
//
// # Secret Redaction
//
// Release notes and config routinely carry API keys, so string fields
// are filtered at the encoder: sensitive field names always redact, and
// values matching the configured patterns redact on match. Patterns are
// compiled through safepattern, which rejects catastrophic shapes and
// bounds every match call, so a hostile pattern in config cannot stall
// the log path. Helpers cover manual redaction:
//
//	logger.Info(ctx, "auth received",
//	    logging.RedactedString("authorization", authHeader))
//
// # Sampling
//
// Entries below Error are sampled per message: within each tick the
// first Sampling.Initial pass, then one in every Sampling.Thereafter.
// Error and above always pass. Disable for debugging:
//
//	cfg.Sampling.Enabled = false
//
// # Testing
//
// Use TestLogger for assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertNoSecrets(t)
//
// Logger is safe for concurrent use. Child loggers (With, Named) are
// independent and do not affect parent or siblings.
package logging
