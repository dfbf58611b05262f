package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/govxi11/cmd/vxi11ctl/cmdutil"
	"github.com/marmos91/govxi11/internal/cli/output"
	"github.com/marmos91/govxi11/pkg/instrument"
)

const defaultMaxBytes = 1 << 20

var (
	ioRaw      bool
	ioFile     string
	ioMaxBytes int
	ioTermChar string
)

// ioResult is printed by read, write and query.
type ioResult struct {
	Op     string            `json:"op" yaml:"op"`
	Status instrument.Status `json:"status" yaml:"status"`
	Bytes  int               `json:"bytes" yaml:"bytes"`
	Data   string            `json:"data,omitempty" yaml:"data,omitempty"`

	raw []byte
}

func newIOResult(op string, data []byte, n int, status instrument.Status) ioResult {
	return ioResult{Op: op, Status: status, Bytes: n, Data: string(data), raw: data}
}

func (r ioResult) Headers() []string { return []string{"Op", "Status", "Bytes", "Data"} }

func (r ioResult) Rows() [][]string {
	data := ""
	if r.raw != nil {
		data = output.DataCell(r.raw)
	}
	return [][]string{{r.Op, r.Status.String(), strconv.Itoa(r.Bytes), data}}
}

func (r ioResult) Raw() []byte { return r.raw }

var writeCmd = &cobra.Command{
	Use:   "write [data]",
	Short: "Send data to the instrument",
	Long: `Send data to the instrument with device_write, split into chunks no
larger than the link's maximum receive size. END is set on the last chunk
unless instrument.send_end is false.

Go escapes such as \n and \x00 are interpreted; use --raw to send the
argument verbatim or --file to send a file ("-" for stdin).

Examples:
  vxi11ctl write -H 192.168.1.50 '*RST'
  vxi11ctl write -H 192.168.1.50 'SYST:BEEP\n'
  vxi11ctl write -H 192.168.1.50 --file waveform.bin`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWrite,
}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read a response from the instrument",
	Long: `Read with device_read until the instrument signals END, the termination
character is seen (when enabled), or --max-bytes have been received.

Examples:
  vxi11ctl read -H 192.168.1.50
  vxi11ctl read -H 192.168.1.50 --term-char '\n' -o raw`,
	Args: cobra.NoArgs,
	RunE: runRead,
}

var queryCmd = &cobra.Command{
	Use:   "query <command>",
	Short: "Write a command and read the response",
	Long: `Write a command and read the response on the same link.

Examples:
  vxi11ctl query -H 192.168.1.50 '*IDN?'
  vxi11ctl query -H 10.0.0.7 -d gpib0,5 'MEAS:VOLT:DC?' -o raw`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	writeCmd.Flags().BoolVar(&ioRaw, "raw", false, "send the argument without interpreting escapes")
	writeCmd.Flags().StringVarP(&ioFile, "file", "f", "", "send the contents of a file (- for stdin)")

	for _, c := range []*cobra.Command{readCmd, queryCmd} {
		c.Flags().IntVarP(&ioMaxBytes, "max-bytes", "n", defaultMaxBytes, "maximum number of bytes to read")
		c.Flags().StringVar(&ioTermChar, "term-char", "", "stop reading at this character (enables instrument.term_char_enabled)")
	}
	queryCmd.Flags().BoolVar(&ioRaw, "raw", false, "send the command without interpreting escapes")
}

func writeData(args []string) ([]byte, error) {
	switch {
	case ioFile == "-":
		return io.ReadAll(os.Stdin)
	case ioFile != "":
		return os.ReadFile(ioFile)
	case len(args) == 1:
		return cmdutil.ParseData(args[0], ioRaw)
	default:
		return nil, fmt.Errorf("nothing to write: pass data or --file")
	}
}

// applyTermChar turns on the termination character from --term-char.
func applyTermChar() error {
	if ioTermChar == "" {
		return nil
	}
	appConfig.Instrument.TermChar = ioTermChar
	appConfig.Instrument.TermCharEnabled = true
	_, err := appConfig.Instrument.SessionConfig()
	return err
}

func printResult(cmd *cobra.Command, r ioResult) error {
	printer, err := cmdutil.Printer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := printer.Print(r); err != nil {
		return err
	}
	return cmdutil.StatusError(r.Op, r.Status)
}

func runWrite(cmd *cobra.Command, args []string) error {
	data, err := writeData(args)
	if err != nil {
		return err
	}

	return withSession(cmd, func(ctx context.Context, s *instrument.Session) error {
		n, status := s.Write(ctx, data)
		return printResult(cmd, newIOResult("write", nil, n, status))
	})
}

func runRead(cmd *cobra.Command, args []string) error {
	if err := applyTermChar(); err != nil {
		return err
	}

	return withSession(cmd, func(ctx context.Context, s *instrument.Session) error {
		data, status := s.Read(ctx, ioMaxBytes)
		return printResult(cmd, newIOResult("read", data, len(data), status))
	})
}

func runQuery(cmd *cobra.Command, args []string) error {
	if err := applyTermChar(); err != nil {
		return err
	}
	command, err := cmdutil.ParseData(args[0], ioRaw)
	if err != nil {
		return err
	}

	return withSession(cmd, func(ctx context.Context, s *instrument.Session) error {
		data, status := s.Query(ctx, command, ioMaxBytes)
		return printResult(cmd, newIOResult("query", data, len(data), status))
	})
}
