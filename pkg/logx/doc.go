// Package logx configures schedbot's structured logging.
//
// logx.Logger is a small wrapper on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON
//   - An optional Telegram sink forwards warnings to an ops chat (min-level + rate limit)
package logx
