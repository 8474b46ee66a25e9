// Package process runs external tools such as ffmpeg.
//
// Process wraps os/exec for a single subprocess:
//   - Graceful shutdown with SIGINT and configurable timeout
//   - Force kill with SIGKILL if graceful shutdown times out
//   - Output streaming with pluggable log parsing
//   - Optional stdin and raw stdout pipes for streaming encoders
//   - The last stderr lines are kept for error reports
//
// Example:
//
//	p := process.NewProcess("mux", "ffmpeg", args, logger)
//	p.SetLogParser(ffmpegLogger, ffmpeg.ParseLogLevel)
//	code, err := p.Run(ctx)
package process
