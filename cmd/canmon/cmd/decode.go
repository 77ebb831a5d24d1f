package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/roffe/canmon"
	"github.com/roffe/canmon/pkg/bar"
	"github.com/spf13/cobra"
)

const flagPrint = "print"

var decodeCmd = &cobra.Command{
	Use:   "decode <capture>",
	Short: "Decode a raw byte capture from file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		eng, err := loadEngine(s.Monitor.Project)
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return err
		}

		var src canmon.ByteSource = f
		printFrames, _ := cmd.Flags().GetBool(flagPrint)
		if !printFrames {
			src = bar.Reader(f, bar.New(fi.Size(), "decoding"))
		}
		stream, err := newStream(src, s, eng)
		if err != nil {
			f.Close()
			return err
		}

		all, _ := cmd.Flags().GetBool(flagAll)
		exportPath, _ := cmd.Flags().GetString(flagExport)
		sink, err := newExportSink(exportPath)
		if err != nil {
			f.Close()
			return err
		}

		go logEvents(stream)
		var total, visible int
		err = stream.Run(ctx, func(r canmon.Result) {
			total++
			if !r.Visible && !all {
				return
			}
			if r.Visible {
				visible++
			}
			if printFrames {
				fmt.Println(r.Frame.String())
			}
			sink.write(r)
		})
		if cerr := sink.close(); cerr != nil && err == nil {
			err = cerr
		}
		fmt.Println()
		log.Printf("%d frames, %d visible, %s", total, visible, stream.Stats().String())
		return err
	},
}

func init() {
	decodeCmd.Flags().String(flagExport, "", "write frames to this file (.csv or tab separated)")
	decodeCmd.Flags().Bool(flagAll, false, "include frames hidden by the filter rules")
	decodeCmd.Flags().Bool(flagPrint, false, "print frames instead of a progress bar")
	rootCmd.AddCommand(decodeCmd)
}
