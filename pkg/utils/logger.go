// Package utils provides shared process helpers.
package utils

import "go.uber.org/zap"

// ServiceName names the root logger and tags every entry.
const ServiceName = "bami"

// NewLogger returns the process logger. When debug is true, uses development config
// (human-readable, debug level); otherwise uses production config (JSON, info level).
// Entries carry service=bami and the logger is named after the service.
func NewLogger(debug bool, opts ...zap.Option) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build(opts...)
	if err != nil {
		return nil, err
	}
	return logger.Named(ServiceName).With(zap.String("service", ServiceName)), nil
}
