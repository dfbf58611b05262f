package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/govxi11/cmd/vxi11ctl/cmdutil"
	"github.com/marmos91/govxi11/internal/cli/output"
	"github.com/marmos91/govxi11/internal/protocol/portmap"
	"github.com/marmos91/govxi11/internal/protocol/vxi11"
)

var portmapCmd = &cobra.Command{
	Use:   "portmap",
	Short: "Query the instrument's port mapper",
	Long: `Query the ONC RPC port mapper (program 100000 version 2) on the
instrument host.

Subcommands:
  getport  Look up the TCP port of a program
  dump     List every registration`,
}

var (
	getportProgram string
	getportVersion uint32
)

var getportCmd = &cobra.Command{
	Use:   "getport",
	Short: "Look up the TCP port of a program",
	Long: `Look up the TCP port registered for a program and version.

--program accepts core, async, intr or a program number.

Examples:
  vxi11ctl portmap getport -H 192.168.1.50
  vxi11ctl portmap getport -H 192.168.1.50 --program async`,
	Args: cobra.NoArgs,
	RunE: runGetport,
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "List every port mapper registration",
	Args:  cobra.NoArgs,
	RunE:  runDump,
}

func init() {
	getportCmd.Flags().StringVar(&getportProgram, "program", "core", "program: core, async, intr or a number")
	getportCmd.Flags().Uint32Var(&getportVersion, "version", 1, "program version")

	portmapCmd.AddCommand(getportCmd)
	portmapCmd.AddCommand(dumpCmd)
}

var programNames = map[uint32]string{
	portmap.ProgramPortmap: "portmapper",
	vxi11.ProgramCore:      "vxi11_core",
	vxi11.ProgramAsync:     "vxi11_async",
	vxi11.ProgramIntr:      "vxi11_intr",
}

func parseProgram(s string) (uint32, error) {
	switch strings.ToLower(s) {
	case "core":
		return vxi11.ProgramCore, nil
	case "async", "abort":
		return vxi11.ProgramAsync, nil
	case "intr":
		return vxi11.ProgramIntr, nil
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid program %q: use core, async, intr or a number", s)
	}
	return uint32(n), nil
}

func programName(prog uint32) string {
	if name, ok := programNames[prog]; ok {
		return name
	}
	return strconv.FormatUint(uint64(prog), 10)
}

// mappingList renders port mapper registrations.
type mappingList []mappingEntry

type mappingEntry struct {
	Program  uint32 `json:"program" yaml:"program"`
	Name     string `json:"name" yaml:"name"`
	Version  uint32 `json:"version" yaml:"version"`
	Protocol string `json:"protocol" yaml:"protocol"`
	Port     uint32 `json:"port" yaml:"port"`
}

func newMappingList(ms []portmap.Mapping) mappingList {
	list := make(mappingList, 0, len(ms))
	for _, m := range ms {
		list = append(list, mappingEntry{
			Program:  m.Prog,
			Name:     programName(m.Prog),
			Version:  m.Vers,
			Protocol: portmap.ProtoName(m.Prot),
			Port:     m.Port,
		})
	}
	return list
}

func (l mappingList) Headers() []string {
	return []string{"Program", "Name", "Version", "Protocol", "Port"}
}

func (l mappingList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(e.Program), 10),
			e.Name,
			strconv.FormatUint(uint64(e.Version), 10),
			e.Protocol,
			strconv.FormatUint(uint64(e.Port), 10),
		})
	}
	return rows
}

func dialPortmap(cmd *cobra.Command) (context.Context, *portmap.Client, func(), error) {
	sc, err := sessionConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := signalContext(cmd)
	c, err := portmap.Dial(ctx, sc.Host,
		portmap.WithPort(sc.PortmapPort),
		portmap.WithRPCOptions(rpcOptions()...))
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return ctx, c, func() { _ = c.Close(); cancel() }, nil
}

func runGetport(cmd *cobra.Command, args []string) error {
	prog, err := parseProgram(getportProgram)
	if err != nil {
		return err
	}

	ctx, c, done, err := dialPortmap(cmd)
	if err != nil {
		return err
	}
	defer done()

	port, err := c.GetPort(ctx, prog, getportVersion, portmap.ProtoTCP, appConfig.Instrument.IOTimeout)
	if err != nil {
		return err
	}

	printer, err := cmdutil.Printer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return printer.Print(newMappingList([]portmap.Mapping{{
		Prog: prog, Vers: getportVersion, Prot: portmap.ProtoTCP, Port: uint32(port),
	}}))
}

func runDump(cmd *cobra.Command, args []string) error {
	ctx, c, done, err := dialPortmap(cmd)
	if err != nil {
		return err
	}
	defer done()

	ms, err := c.Dump(ctx, appConfig.Instrument.IOTimeout)
	if err != nil {
		return err
	}

	printer, err := cmdutil.Printer(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if len(ms) == 0 && printer.Format() == output.FormatTable {
		printer.Warning("No registrations")
		return nil
	}
	return printer.Print(newMappingList(ms))
}
