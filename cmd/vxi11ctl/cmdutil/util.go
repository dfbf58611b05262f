// Package cmdutil provides shared utilities for vxi11ctl commands.
package cmdutil

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/marmos91/govxi11/internal/cli/output"
	"github.com/marmos91/govxi11/internal/logger"
	"github.com/marmos91/govxi11/pkg/config"
	"github.com/marmos91/govxi11/pkg/instrument"
)

// SkipSetup is the command annotation that skips config loading in the
// root PersistentPreRunE.
const SkipSetup = "vxi11ctl/skip-setup"

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ConfigFile string
	LogLevel   string
	Output     string
	Set        []string
	Host       string
	Device     string
	NoColor    bool
}

// Overrides merges --set with the --host and --device shortcuts. The
// shortcuts win over --set.
func (f *GlobalFlags) Overrides() (map[string]string, error) {
	overrides, err := config.ParseOverrides(f.Set)
	if err != nil {
		return nil, err
	}
	if f.Host != "" {
		overrides["instrument.host"] = f.Host
	}
	if f.Device != "" {
		overrides["instrument.device"] = f.Device
	}
	if f.LogLevel != "" {
		overrides["logging.level"] = f.LogLevel
	}
	return overrides, nil
}

// LoadConfig loads the configuration file (optional), environment and
// command line overrides, in increasing precedence.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(Flags.ConfigFile)
	if err != nil {
		return nil, err
	}

	overrides, err := Flags.Overrides()
	if err != nil {
		return nil, err
	}
	if err := config.ApplyOverrides(cfg, overrides); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// Printer returns a printer for the --output format writing to w.
func Printer(w io.Writer) (*output.Printer, error) {
	format, err := output.ParseFormat(Flags.Output)
	if err != nil {
		return nil, err
	}
	color := !Flags.NoColor && os.Getenv("NO_COLOR") == ""
	if f, ok := w.(*os.File); ok {
		color = color && output.IsTerminal(f)
	} else {
		color = false
	}
	return output.NewPrinter(w, format, color), nil
}

// StatusError turns an error status into a command error so the process
// exits non-zero. Completion codes return nil.
func StatusError(op string, status instrument.Status) error {
	if !status.IsError() {
		return nil
	}
	return &instrument.StatusError{Op: op, Status: status}
}

// ParseData decodes command line data. Go escapes such as \n and \x00 are
// interpreted unless raw is set.
func ParseData(s string, raw bool) ([]byte, error) {
	if raw {
		return []byte(s), nil
	}
	unquoted, err := unquote(s)
	if err != nil {
		return nil, fmt.Errorf("invalid escape in %q: %w", s, err)
	}
	return []byte(unquoted), nil
}

func unquote(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for len(s) > 0 {
		r, multibyte, tail, err := strconv.UnquoteChar(s, 0)
		if err != nil {
			return "", err
		}
		// \xNN yields a single byte, not a rune
		if multibyte {
			b.WriteRune(r)
		} else {
			b.WriteByte(byte(r))
		}
		s = tail
	}
	return b.String(), nil
}
