package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/govxi11/cmd/vxi11ctl/cmdutil"
	"github.com/marmos91/govxi11/internal/cli/output"
	"github.com/marmos91/govxi11/internal/logger"
	"github.com/marmos91/govxi11/pkg/instrument"
)

// controlResult is printed by the control commands.
type controlResult struct {
	Op     string            `json:"op" yaml:"op"`
	Status instrument.Status `json:"status" yaml:"status"`
	STB    *uint8            `json:"stb,omitempty" yaml:"stb,omitempty"`
	Data   string            `json:"data,omitempty" yaml:"data,omitempty"`
}

func (r controlResult) Headers() []string {
	h := []string{"Op", "Status"}
	if r.STB != nil {
		h = append(h, "STB")
	}
	if r.Data != "" {
		h = append(h, "Data")
	}
	return h
}

func (r controlResult) Rows() [][]string {
	row := []string{r.Op, r.Status.String()}
	if r.STB != nil {
		row = append(row, fmt.Sprintf("0x%02X (%d)", *r.STB, *r.STB))
	}
	if r.Data != "" {
		row = append(row, r.Data)
	}
	return [][]string{row}
}

func printControl(cmd *cobra.Command, r controlResult) error {
	printer, err := cmdutil.Printer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := printer.Print(r); err != nil {
		return err
	}
	return cmdutil.StatusError(r.Op, r.Status)
}

// simpleControl builds a command that runs one status-only operation.
func simpleControl(use, short, long string, op func(*instrument.Session, context.Context) instrument.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *instrument.Session) error {
				return printControl(cmd, controlResult{Op: use, Status: op(s, ctx)})
			})
		},
	}
}

var (
	clearCmd = simpleControl("clear", "Send a device clear",
		"Send device_clear, the equivalent of a GPIB selected device clear.",
		(*instrument.Session).Clear)
	triggerCmd = simpleControl("trigger", "Send a device trigger",
		"Send device_trigger, the equivalent of a GPIB group execute trigger.",
		(*instrument.Session).Trigger)
	localCmd = simpleControl("local", "Return the device to local control",
		"Send device_local so the front panel is usable again.",
		(*instrument.Session).Local)
	remoteCmd = simpleControl("remote", "Put the device in remote state",
		"Send device_remote to lock out the front panel.",
		(*instrument.Session).Remote)
	abortCmd = simpleControl("abort", "Abort an in-progress operation",
		`Send device_abort on the abort channel. The channel is dialed on the
port the instrument reported when the link was created.`,
		(*instrument.Session).Abort)
)

var stbCmd = &cobra.Command{
	Use:   "stb",
	Short: "Read the status byte",
	Long: `Read the IEEE 488.2 status byte with device_readstb.

Examples:
  vxi11ctl stb -H 192.168.1.50
  vxi11ctl stb -H 10.0.0.7 -d gpib0,5 -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *instrument.Session) error {
			stb, status := s.ReadSTB(ctx)
			r := controlResult{Op: "stb", Status: status}
			if !status.IsError() {
				r.STB = &stb
			}
			return printControl(cmd, r)
		})
	},
}

var (
	lockTimeout time.Duration
	lockHold    time.Duration
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Hold an exclusive lock on the device",
	Long: `Acquire the device lock, hold it for --hold (or until interrupted) and
release it. Other links get error_resource_locked while the lock is held.

Examples:
  vxi11ctl lock -H 192.168.1.50 --hold 30s
  vxi11ctl lock -H 192.168.1.50 --timeout 10s --hold 0`,
	Args: cobra.NoArgs,
	RunE: runLock,
}

func init() {
	lockCmd.Flags().DurationVar(&lockTimeout, "timeout", 5*time.Second, "how long to wait for a lock held by another link")
	lockCmd.Flags().DurationVar(&lockHold, "hold", 0, "how long to hold the lock (0 waits for Ctrl+C)")
}

func runLock(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *instrument.Session) error {
		status := s.Lock(ctx, lockTimeout)
		if err := printControl(cmd, controlResult{Op: "lock", Status: status}); err != nil {
			return err
		}

		var hold <-chan time.Time
		if lockHold > 0 {
			hold = time.After(lockHold)
		}
		logger.Info("Holding lock", logger.Link(s.LinkID()), "hold", lockHold.String())
		select {
		case <-ctx.Done():
		case <-hold:
		}

		// ctx may be cancelled already
		unlockCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout())
		defer cancel()
		return printControl(cmd, controlResult{Op: "unlock", Status: s.Unlock(unlockCtx)})
	})
}

var (
	docmdNetworkOrder bool
	docmdDataSize     int32
)

var docmdCmd = &cobra.Command{
	Use:   "docmd <cmd> [hex-data]",
	Short: "Run a gateway-specific device_docmd",
	Long: `Run device_docmd with a numeric command and optional hex-encoded input.
The meaning of the command depends on the gateway; GPIB gateways use it for
bus-level operations such as sending commands with ATN asserted.

Examples:
  vxi11ctl docmd -H 10.0.0.7 -d gpib0 0x20000 3f
  vxi11ctl docmd -H 10.0.0.7 -d gpib0 0x20002 --data-size 2 0000`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDocmd,
}

func init() {
	docmdCmd.Flags().BoolVar(&docmdNetworkOrder, "network-order", true, "input data is in network byte order")
	docmdCmd.Flags().Int32Var(&docmdDataSize, "data-size", 1, "size of each data element in bytes")
}

func runDocmd(cmd *cobra.Command, args []string) error {
	code, err := strconv.ParseInt(args[0], 0, 32)
	if err != nil {
		return fmt.Errorf("invalid docmd command %q: %w", args[0], err)
	}
	var in []byte
	if len(args) == 2 {
		if in, err = hex.DecodeString(args[1]); err != nil {
			return fmt.Errorf("invalid hex data: %w", err)
		}
	}

	return withSession(cmd, func(ctx context.Context, s *instrument.Session) error {
		out, status := s.Docmd(ctx, int32(code), docmdNetworkOrder, docmdDataSize, in)
		r := controlResult{Op: "docmd", Status: status}
		if len(out) > 0 {
			r.Data = output.DataCell(out)
		}
		return printControl(cmd, r)
	})
}
