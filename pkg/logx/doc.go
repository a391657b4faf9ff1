// Package logx configures wabulk's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured, so a run can be replayed from the log
//   - A live root that config reloads can swap without rebuilding loggers
package logx
