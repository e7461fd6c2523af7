// Package logging provides structured logging for chainguard.
//
// Logging wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Output to stderr and/or a size-rotated file (stdout is reserved for
//     the MCP stream)
//   - Automatic context field injection (trace_id, project.key, operation)
//   - Level-aware sampling (errors never sampled)
//
// Create a logger from the application config:
//
//	lcfg, err := logging.FromAppConfig(cfg.Logging)
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(lcfg)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx = logging.WithProjectKey(ctx, key)
//	ctx = logging.WithOperation(ctx, "track")
//	logger.Info(ctx, "change recorded", zap.String("path", p))
//
// Use TestLogger for test assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertField(t, "test message", "key", "value")
package logging
