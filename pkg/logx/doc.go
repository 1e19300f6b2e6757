// Package logx configures streakbot's structured logging.
//
// A small wrapper (logx.Logger) sits on top of zerolog so that:
//   - console output stays readable (short timestamp + short caller)
//   - file output is JSON, one event per line
//   - warnings can be mirrored to a Telegram chat (min-level + rate limited)
package logx
