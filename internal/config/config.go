// Package config provides configuration management for the retouch application.
//
// Configuration is parsed from CLI flags with sensible defaults.
// The Config struct is passed to components during initialization.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"
)

const (
	// Version is the retouch application version
	Version = "0.1.0"

	// Default values for CLI flags
	defaultPort        = 8080
	defaultModel       = "gemini-2.5-flash-image"
	defaultSessionDir  = "config/sessions"
	defaultEditTimeout = 120 // seconds
	defaultLogLevel    = "info"

	// Validation constraints
	minPort        = 1024
	maxPort        = 65535
	minEditTimeout = 5
	maxEditTimeout = 600
)

var (
	// ErrInvalidPort is returned when port is out of valid range
	ErrInvalidPort = errors.New("port must be between 1024 and 65535")
	// ErrInvalidModel is returned when the model name is empty
	ErrInvalidModel = errors.New("model must not be empty")
	// ErrInvalidSessionDir is returned when the session directory is empty
	ErrInvalidSessionDir = errors.New("session-dir must not be empty")
	// ErrInvalidEditTimeout is returned when edit-timeout is out of valid range
	ErrInvalidEditTimeout = errors.New("edit-timeout must be between 5 and 600 seconds")
	// ErrInvalidLogLevel is returned when log level is not recognized
	ErrInvalidLogLevel = errors.New("log-level must be one of: debug, info, warn, error")
	// ErrShowHelp is returned when --help flag is requested
	ErrShowHelp = errors.New("help requested")
	// ErrShowVersion is returned when --version flag is requested
	ErrShowVersion = errors.New("version requested")
)

// Config holds all configuration values for the retouch application.
// Values are populated from CLI flags with defaults applied.
type Config struct {
	// Server configuration
	Port int

	// Edit service configuration
	Model       string
	EditTimeout int // seconds

	// Persistence configuration
	SessionDir string

	// Logging configuration
	LogLevel string

	// Internal flags
	showHelp    bool
	showVersion bool
}

// EditTimeoutDuration returns the edit timeout as a time.Duration.
func (c *Config) EditTimeoutDuration() time.Duration {
	return time.Duration(c.EditTimeout) * time.Second
}

// Parse parses CLI flags into a Config struct.
// It returns the parsed Config or an error if validation fails.
// If --help or --version is requested, it prints the output and returns
// ErrShowHelp or ErrShowVersion.
func Parse(args []string, output io.Writer) (*Config, error) {
	c := &Config{}

	fs := flag.NewFlagSet("retouch", flag.ContinueOnError)
	fs.SetOutput(output)

	// Server flags
	fs.IntVar(&c.Port, "port", defaultPort, "HTTP server port")

	// Edit service flags
	fs.StringVar(&c.Model, "model", defaultModel, "Generative image model name")
	fs.IntVar(&c.EditTimeout, "edit-timeout", defaultEditTimeout, "Timeout for a single edit request in seconds")

	// Persistence flags
	fs.StringVar(&c.SessionDir, "session-dir", defaultSessionDir, "Directory for persisted session records")

	// Logging flags
	fs.StringVar(&c.LogLevel, "log-level", defaultLogLevel, "Log level (debug, info, warn, error)")

	// Special flags
	fs.BoolVar(&c.showHelp, "help", false, "Show help message")
	fs.BoolVar(&c.showVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if c.showHelp {
		printHelp(output)
		return nil, ErrShowHelp
	}

	if c.showVersion {
		printVersion(output)
		return nil, ErrShowVersion
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// validate checks that all configuration values are within valid ranges
func (c *Config) validate() error {
	if c.Port < minPort || c.Port > maxPort {
		return ErrInvalidPort
	}

	if c.Model == "" {
		return ErrInvalidModel
	}

	if c.SessionDir == "" {
		return ErrInvalidSessionDir
	}

	if c.EditTimeout < minEditTimeout || c.EditTimeout > maxEditTimeout {
		return ErrInvalidEditTimeout
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
		// Valid
	default:
		return ErrInvalidLogLevel
	}

	return nil
}

// printHelp prints usage information
func printHelp(w io.Writer) {
	fmt.Fprintf(w, `retouch - AI photo editing server

USAGE:
    retouch [FLAGS]

FLAGS:
    --port <PORT>              HTTP server port (default: %d)
    --model <MODEL>            Generative image model name (default: %s)
    --edit-timeout <SECONDS>   Timeout for a single edit request (default: %d)
    --session-dir <DIR>        Directory for persisted session records (default: %s)
    --log-level <LEVEL>        Log level: debug, info, warn, error (default: %s)
    --help                     Show this help message
    --version                  Show version information

EXAMPLES:
    # Start with defaults
    retouch

    # Use custom port
    retouch --port 3000

    # Use a different model
    retouch --model gemini-2.5-flash-image

REQUIREMENTS:
    - GEMINI_API_KEY must be set in the environment
`,
		defaultPort, defaultModel, defaultEditTimeout, defaultSessionDir, defaultLogLevel)
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "retouch %s\n", Version)
}
