package instrument

import (
	"fmt"
	"time"

	"github.com/marmos91/govxi11/internal/protocol/portmap"
	"github.com/marmos91/govxi11/internal/protocol/vxi11"
)

// Default session settings.
const (
	DefaultDevice      = "inst0"
	DefaultIOTimeout   = 5 * time.Second
	DefaultLockTimeout = 5 * time.Second
	DefaultDialTimeout = 10 * time.Second
	DefaultTermChar    = '\n'
)

// Config describes how to open a session to one VXI-11 device.
type Config struct {
	// Host is the instrument's address.
	Host string

	// Device is the logical device name sent in create_link, e.g. "inst0"
	// or "gpib0,5".
	Device string

	// ClientID identifies this client to the device. It is informational.
	ClientID int32

	// LockDevice requests an exclusive lock while creating the link.
	LockDevice bool

	IOTimeout   time.Duration
	LockTimeout time.Duration

	// MaxRecvSize caps read and write chunks. The device's value wins when smaller;
	// zero means use the device's value.
	MaxRecvSize uint32

	// TermChar ends a read early when TermCharEnabled is set.
	TermChar        byte
	TermCharEnabled bool

	// SendEnd sets the END flag on the last chunk of each write.
	SendEnd bool

	PortmapPort int

	// CorePort skips the port mapper when non-zero.
	CorePort int

	// TimeoutSlack is added to the device timeouts to form socket
	// deadlines.
	TimeoutSlack time.Duration

	DialTimeout time.Duration
}

// DefaultConfig returns a Config for host with the default settings.
func DefaultConfig(host string) Config {
	return Config{
		Host:         host,
		Device:       DefaultDevice,
		IOTimeout:    DefaultIOTimeout,
		LockTimeout:  DefaultLockTimeout,
		TermChar:     DefaultTermChar,
		SendEnd:      true,
		PortmapPort:  portmap.DefaultPort,
		TimeoutSlack: vxi11.DefaultTimeoutSlack,
		DialTimeout:  DefaultDialTimeout,
	}
}

// ApplyDefaults fills zero-valued fields. SendEnd and TermCharEnabled are
// left alone because false is a meaningful choice for both.
func (c *Config) ApplyDefaults() {
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.PortmapPort == 0 {
		c.PortmapPort = portmap.DefaultPort
	}
	if c.TimeoutSlack == 0 {
		c.TimeoutSlack = vxi11.DefaultTimeoutSlack
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
}

// Validate checks the fields Open depends on.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("instrument: host is required")
	}
	if c.IOTimeout < 0 || c.LockTimeout < 0 || c.TimeoutSlack < 0 {
		return fmt.Errorf("instrument: timeouts must not be negative")
	}
	if c.CorePort < 0 || c.CorePort > 0xFFFF {
		return fmt.Errorf("instrument: core port %d out of range", c.CorePort)
	}
	if c.PortmapPort < 0 || c.PortmapPort > 0xFFFF {
		return fmt.Errorf("instrument: port mapper port %d out of range", c.PortmapPort)
	}
	return nil
}
