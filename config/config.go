// Package config defines the chat server settings. Every option can be set
// on the command line or through a CHAT_* environment variable; the
// defaults reproduce the stock deployment on 127.0.0.1:8888.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/cyberinferno/go-chat/logger"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the server settings.
type Config struct {
	Listen        string        `long:"listen" env:"CHAT_LISTEN" default:"127.0.0.1:8888" description:"Host and port to listen on."`
	HistoryReplay int           `long:"history-replay" env:"CHAT_HISTORY_REPLAY" default:"10" description:"Number of recent messages sent to a client after login."`
	WriteTimeout  time.Duration `long:"write-timeout" env:"CHAT_WRITE_TIMEOUT" default:"5s" description:"Deadline for a single write to a client; 0 disables."`
	IdleTimeout   time.Duration `long:"idle-timeout" env:"CHAT_IDLE_TIMEOUT" default:"0s" description:"Disconnect clients silent for this long; 0 disables."`
	MaxLine       int           `long:"max-line" env:"CHAT_MAX_LINE" default:"4096" description:"Longest accepted input line in bytes."`

	RateMessages int           `long:"rate-messages" env:"CHAT_RATE_MESSAGES" default:"0" description:"Messages a client may send per rate period; 0 disables."`
	RatePeriod   time.Duration `long:"rate-period" env:"CHAT_RATE_PERIOD" default:"1s" description:"Window for --rate-messages."`

	GuardMaxFailures int           `long:"guard-max-failures" env:"CHAT_GUARD_MAX_FAILURES" default:"0" description:"Rejected logins per host before further logins are refused; 0 disables."`
	GuardWindow      time.Duration `long:"guard-window" env:"CHAT_GUARD_WINDOW" default:"1m" description:"How long rejected logins are remembered."`
	RedisAddr        string        `long:"redis-addr" env:"CHAT_REDIS_ADDR" description:"Share login guard counters through this Redis server."`

	LogLevel   string `long:"log-level" env:"CHAT_LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Minimum log level."`
	LogDir     string `long:"log-dir" env:"CHAT_LOG_DIR" description:"Also write JSON logs to daily files in this directory."`
	LogConsole bool   `long:"log-console" env:"CHAT_LOG_CONSOLE" description:"Human-readable log output instead of JSON."`
}

// Load parses args (without the program name) on top of the environment
// and the defaults, then validates the result.
//
// Parameters:
//   - args: Command line arguments, usually os.Args[1:]
//
// Returns:
//   - The parsed configuration
//   - A *flags.Error of type flags.ErrHelp when --help was given (see IsHelp),
//     or any parse or validation error
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "chatserver"

	rest, err := parser.ParseArgs(args)
	if err != nil {
		return nil, err
	}

	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: unexpected arguments %s", ErrInvalidConfig, strings.Join(rest, " "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsHelp reports whether err is the help request returned by Load.
func IsHelp(err error) bool {
	var flagsErr *flags.Error
	return errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp
}

// Validate checks value ranges that go-flags cannot express.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Listen) == "" {
		problems = append(problems, "listen address must not be empty")
	}

	if c.HistoryReplay < 0 {
		problems = append(problems, "history-replay must not be negative")
	}

	if c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		problems = append(problems, "timeouts must not be negative")
	}

	if c.MaxLine <= 0 {
		problems = append(problems, "max-line must be positive")
	}

	if c.RateMessages < 0 {
		problems = append(problems, "rate-messages must not be negative")
	}

	if c.RateMessages > 0 && c.RatePeriod <= 0 {
		problems = append(problems, "rate-period must be positive when rate limiting is enabled")
	}

	if c.GuardMaxFailures < 0 {
		problems = append(problems, "guard-max-failures must not be negative")
	}

	if c.GuardMaxFailures > 0 && c.GuardWindow <= 0 {
		problems = append(problems, "guard-window must be positive when the login guard is enabled")
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}

	return nil
}
