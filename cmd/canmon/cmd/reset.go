package cmd

import (
	"log"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Flush the adapter buffers and resend its settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		port, err := openPort(cmd.Context(), s)
		if err != nil {
			return err
		}
		defer port.Close()
		if err := port.Reset(); err != nil {
			return err
		}
		log.Printf("%s reset, CAN %d bit/s", port.Name(), port.Config().CANRate)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
