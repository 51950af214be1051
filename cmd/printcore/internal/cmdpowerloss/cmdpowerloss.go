package cmdpowerloss

import (
	"errors"
	"fmt"
	"io"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/rusq/printcore/cmd/printcore/internal/bootstrap"
	"github.com/rusq/printcore/powerloss"
	"github.com/rusq/printcore/printjob"
	"github.com/rusq/printcore/sacp"
)

var CmdPowerLoss = &cobra.Command{
	Use:     "powerloss",
	Aliases: []string{"pl"},
	Short:   "inspect and modify the crash-recovery record",
	Long: `The crash-recovery record holds the identity of the file being printed and
the line the job was interrupted at.  It is written when a job starts and on
every pause, and cleared when the job completes.
`,
}

var cmdShow = &cobra.Command{
	Use:   "show",
	Short: "show the crash-recovery record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := bootstrap.Record()
		if err != nil && !errors.Is(err, powerloss.ErrCorrupt) {
			return err
		}
		return printRecord(cmd.OutOrStdout(), rec, err)
	},
}

var cmdClear = &cobra.Command{
	Use:   "clear",
	Short: "erase the crash-recovery record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := bootstrap.Record()
		if err != nil && !errors.Is(err, powerloss.ErrCorrupt) {
			return err
		}
		if err := rec.Clear(); err != nil {
			return err
		}
		pterm.Success.Println("crash-recovery record erased")
		return nil
	},
}

var (
	hash string
	name string
	line uint32
)

var cmdSet = &cobra.Command{
	Use:   "set",
	Short: "write a crash-recovery record, as an interrupted job would",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := bootstrap.Record()
		if err != nil && !errors.Is(err, powerloss.ErrCorrupt) {
			return err
		}
		if err := rec.Set(hash, name); err != nil {
			return err
		}
		if err := rec.SaveLine(line); err != nil {
			return err
		}
		return printRecord(cmd.OutOrStdout(), rec, nil)
	},
}

func init() {
	fs := cmdSet.Flags()
	fs.StringVar(&hash, "hash", "", "file `hash`, at most 32 bytes")
	fs.StringVar(&name, "name", "", "file `name`, at most 128 bytes")
	fs.Uint32Var(&line, "line", 0, "first line not executed")
	_ = cmdSet.MarkFlagRequired("hash")

	CmdPowerLoss.AddCommand(cmdShow, cmdClear, cmdSet)
}

func printRecord(w io.Writer, rec *powerloss.Record, loadErr error) error {
	if loadErr != nil {
		pterm.Warning.Println("record is corrupt and reads as absent:", loadErr)
	}
	id, ok := rec.Get()
	if !ok {
		_, err := fmt.Fprintln(w, "no interrupted job")
		return err
	}
	data := pterm.TableData{
		{"Field", "Value"},
		{"Hash", id.Hash},
		{"Name", id.Name},
		{"Line", fmt.Sprint(id.Line)},
		{"Job ID", printjob.JobID(sacp.FileInfo{Hash: id.Hash, Name: id.Name}).String()},
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(data).Render()
}
