package telemetry

import "fmt"

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error, fatal.
	Level string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// Format is "console" for human-readable output or "json".
	Format string `mapstructure:"format" validate:"omitempty,oneof=console json"`

	// Output is "stdout", "stderr" or a file path.
	Output string `mapstructure:"output"`
}

// DefaultConfig is human-oriented console logging; deploys are mostly
// run by hand.
func DefaultConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// Validate rejects unknown level or format names.
func (c LoggingConfig) Validate() error {
	switch c.Level {
	case "", "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("unknown log level %q", c.Level)
	}
	switch c.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	return nil
}
