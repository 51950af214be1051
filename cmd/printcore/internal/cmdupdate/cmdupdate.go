package cmdupdate

import (
	"errors"
	"fmt"
	"io"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/rusq/printcore/cmd/printcore/internal/bootstrap"
	"github.com/rusq/printcore/flash"
	"github.com/rusq/printcore/update"
)

var CmdUpdate = &cobra.Command{
	Use:   "update",
	Short: "inspect and modify the firmware update descriptor",
	Long: `The update descriptor tells the bootloader where the application starts and
whether an update is pending.  It lives in the last page of the flash image.
`,
}

var cmdStatus = &cobra.Command{
	Use:   "status",
	Short: "show the update descriptor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := bootstrap.Updates()
		if err != nil {
			return err
		}
		return printDescriptor(cmd.OutOrStdout(), st)
	},
}

var cmdInit = &cobra.Command{
	Use:   "init",
	Short: "settle the descriptor as the application does at boot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := bootstrap.Updates()
		if err != nil {
			return err
		}
		if err := st.InitializeAtBoot(); err != nil {
			return err
		}
		return printDescriptor(cmd.OutOrStdout(), st)
	},
}

var (
	appStart uint32
	usart    uint8
	receiver uint8
)

var cmdRequest = &cobra.Command{
	Use:   "request",
	Short: "request a firmware update, as the host would",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := bootstrap.Updates()
		if err != nil {
			return err
		}
		d := update.Descriptor{AppStartAddr: appStart}.Sealed()
		if err := st.Request(d, usart, receiver); err != nil {
			return fmt.Errorf("update refused: %w", err)
		}
		pterm.Success.Println("update requested, the bootloader takes over on the next reset")
		return printDescriptor(cmd.OutOrStdout(), st)
	},
}

func init() {
	fs := cmdRequest.Flags()
	fs.Uint32Var(&appStart, "app", flash.Base+update.BootSize, "application start `address`")
	fs.Uint8Var(&usart, "usart", 1, "transport the update is received on")
	fs.Uint8Var(&receiver, "receiver", 0, "receiver `id`")

	CmdUpdate.AddCommand(cmdStatus, cmdInit, cmdRequest)
}

func printDescriptor(w io.Writer, st *update.Store) error {
	d, err := st.Load()
	valid := "yes"
	if err != nil {
		if !errors.Is(err, update.ErrChecksumMismatch) {
			return err
		}
		valid = pterm.Red(fmt.Sprintf("no, checksum 0x%08x expected 0x%08x", d.Checksum, d.Sum()))
	}
	data := pterm.TableData{
		{"Field", "Value"},
		{"Status", d.Status.String()},
		{"Application start", fmt.Sprintf("0x%08x", d.AppStartAddr)},
		{"USART", fmt.Sprint(d.UsartNum)},
		{"Receiver", fmt.Sprint(d.ReceiverID)},
		{"Checksum", fmt.Sprintf("0x%08x", d.Checksum)},
		{"Valid", valid},
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(data).Render()
}
