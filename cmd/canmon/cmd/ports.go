package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/roffe/canmon/pkg/serialport"
	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List available serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serialport.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("no serial ports found")
			return nil
		}
		name := color.New(color.FgGreen).SprintFunc()
		for _, port := range ports {
			fmt.Printf("port: %s\n", name(port.Name))
			if port.IsUSB {
				fmt.Printf("   USB ID      %s:%s\n", port.VID, port.PID)
				fmt.Printf("   USB serial  %s\n", port.SerialNumber)
				if port.Product != "" {
					fmt.Printf("   product     %s\n", port.Product)
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
