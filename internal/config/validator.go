package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/vyrodovalexey/avaserve/internal/observability"
)

// ValidationError is a problem with one configuration field.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors collects every problem found by Validate.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Validate checks the configuration and returns ValidationErrors listing
// every problem, or nil.
func (c *Config) Validate() error {
	if c == nil {
		return ValidationErrors{{Message: "configuration is nil"}}
	}

	var errs ValidationErrors
	add := func(path, format string, args ...any) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		add("server.address", "invalid address %q: %v", c.Server.Address, err)
	}
	if c.Server.Workers < 0 {
		add("server.workers", "must not be negative")
	}
	if c.Server.MaxConnections < 0 {
		add("server.maxConnections", "must not be negative")
	}
	if c.Server.AcceptRate < 0 {
		add("server.acceptRate", "must not be negative")
	}
	if c.Server.AcceptBurst < 0 {
		add("server.acceptBurst", "must not be negative")
	}
	if c.Server.ShutdownTimeout < 0 {
		add("server.shutdownTimeout", "must not be negative")
	}
	if b := c.Server.AcceptBackoff; b.Initial > 0 && b.Max > 0 && b.Initial > b.Max {
		add("server.acceptBackoff", "initial %s exceeds max %s", b.Initial.Duration(), b.Max.Duration())
	}

	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			add("tls", "%v", err)
		}
	}

	if _, err := observability.ParseLevel(c.Observability.Logging.Level); err != nil {
		add("observability.logging.level", "%v", err)
	}
	switch c.Observability.Logging.Format {
	case "", "json", "console":
	default:
		add("observability.logging.format", "unsupported format %q", c.Observability.Logging.Format)
	}

	if m := c.Observability.Metrics; m.Enabled {
		if _, _, err := net.SplitHostPort(m.MetricsAddress()); err != nil {
			add("observability.metrics.address", "invalid address %q: %v", m.Address, err)
		}
		if !strings.HasPrefix(m.MetricsPath(), "/") {
			add("observability.metrics.path", "must start with /")
		}
	}

	if t := c.Observability.Tracing; t.Enabled {
		if t.SamplingRate < 0 || t.SamplingRate > 1 {
			add("observability.tracing.samplingRate", "must be between 0 and 1")
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// IsValidationError reports whether err carries ValidationErrors.
func IsValidationError(err error) bool {
	var errs ValidationErrors
	return errors.As(err, &errs)
}
