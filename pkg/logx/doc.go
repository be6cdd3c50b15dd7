// Package logx configures reminderbot's structured logging.
//
// Logger is a small wrapper on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional Telegram sink for warnings (min-level + rate limiting)
//
// Components never configure logging themselves; they receive a Logger at
// construction and derive from it with With().
package logx
