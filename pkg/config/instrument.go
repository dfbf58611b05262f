package config

import (
	"fmt"
	"strconv"

	"github.com/marmos91/govxi11/pkg/instrument"
)

// ParseTermChar decodes a termination character setting. It accepts a
// single byte ("\n" from YAML) or a Go escape sequence (`\n`, `\x0a`) as
// typed on a command line.
func ParseTermChar(s string) (byte, error) {
	if len(s) == 1 {
		return s[0], nil
	}
	unquoted, err := strconv.Unquote(`"` + s + `"`)
	if err != nil || len(unquoted) != 1 {
		return 0, fmt.Errorf("term_char %q is not a single byte", s)
	}
	return unquoted[0], nil
}

// SessionConfig converts the instrument section into a session Config.
// Host may be overridden by the caller before opening the session.
func (c InstrumentConfig) SessionConfig() (instrument.Config, error) {
	termChar, err := ParseTermChar(c.TermChar)
	if err != nil {
		return instrument.Config{}, err
	}

	return instrument.Config{
		Host:            c.Host,
		Device:          c.Device,
		ClientID:        c.ClientID,
		LockDevice:      c.LockDevice,
		IOTimeout:       c.IOTimeout,
		LockTimeout:     c.LockTimeout,
		MaxRecvSize:     c.MaxRecvSize,
		TermChar:        termChar,
		TermCharEnabled: c.TermCharEnabled,
		SendEnd:         c.SendEnd,
		PortmapPort:     c.PortmapPort,
		CorePort:        c.CorePort,
		TimeoutSlack:    c.TimeoutSlack,
		DialTimeout:     c.DialTimeout,
	}, nil
}
