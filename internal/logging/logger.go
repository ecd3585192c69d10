// Package logging centralises zap construction the way every teacher
// service does it (zap.NewProduction / zap.NewDevelopment at startup, then
// threaded through constructors as *zap.Logger).
package logging

import "go.uber.org/zap"

// New builds the process logger. Production builds use the JSON encoder;
// anything else falls back to the human-readable development encoder.
func New(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// Must is New but panics on error, for use in package-level bootstrap code
// where there is no sane fallback.
func Must(env string) *zap.Logger {
	logger, err := New(env)
	if err != nil {
		panic(err)
	}
	return logger
}
