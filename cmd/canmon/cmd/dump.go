package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/roffe/canmon"
	"github.com/roffe/canmon/pkg/export"
	"github.com/spf13/cobra"
)

const (
	flagExport = "export"
	flagAll    = "all"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print frames from the adapter to stdout",
	Long:  `Print every visible frame; with --export visible frames are also written as CSV (.csv) or tab separated text`,
	Args:  cobra.NoArgs,
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
		port, err := openPort(ctx, s)
		if err != nil {
			return err
		}
		stream, err := newStream(port, s, eng)
		if err != nil {
			port.Close()
			return err
		}

		all, _ := cmd.Flags().GetBool(flagAll)
		exportPath, _ := cmd.Flags().GetString(flagExport)
		sink, err := newExportSink(exportPath)
		if err != nil {
			port.Close()
			return err
		}

		go logEvents(stream)
		hidden := color.New(color.Faint).SprintFunc()
		err = stream.Run(ctx, func(r canmon.Result) {
			switch {
			case r.Visible:
				fmt.Println(r.Frame.ColorString())
			case all:
				fmt.Println(hidden(r.Frame.String()))
			default:
				return
			}
			sink.write(r)
		})
		if cerr := sink.close(); cerr != nil && err == nil {
			err = cerr
		}
		log.Println(stream.Stats().String())
		return err
	},
}

func init() {
	dumpCmd.Flags().String(flagExport, "", "also write frames to this file (.csv or tab separated)")
	dumpCmd.Flags().Bool(flagAll, false, "include frames hidden by the filter rules")
	rootCmd.AddCommand(dumpCmd)
}

type exportSink struct {
	path string
	f    *os.File
	w    *export.Writer
	err  error
}

func newExportSink(path string) (*exportSink, error) {
	if path == "" {
		return &exportSink{}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}
	w := export.NewWriter(f, export.SeparatorFor(path))
	if err := w.WriteHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return &exportSink{path: path, f: f, w: w}, nil
}

func (e *exportSink) write(r canmon.Result) {
	if e.w == nil || e.err != nil {
		return
	}
	e.err = e.w.Write(r.Frame)
}

func (e *exportSink) close() error {
	if e.f == nil {
		return nil
	}
	if err := e.w.Flush(); err != nil && e.err == nil {
		e.err = err
	}
	if err := e.f.Close(); err != nil && e.err == nil {
		e.err = err
	}
	if e.err != nil {
		return fmt.Errorf("failed to export: %w", e.err)
	}
	log.Printf("exported %d rows to %s", e.w.Rows(), e.path)
	return nil
}
