// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the crawler's zap.Logger. Development mode uses the console
// encoder with colored levels; production emits JSON with sampling left at
// zap's defaults. The session field ties every line to one crawl.
func New(development bool, sessionID string) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if sessionID != "" {
		logger = logger.With(zap.String("session", sessionID))
	}
	return logger, nil
}
