package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jroimartin/gocui"
	"github.com/roffe/canmon"
	"github.com/roffe/canmon/cmd/canmon/pkg/ui"
	"github.com/roffe/canmon/pkg/export"
	"github.com/roffe/canmon/pkg/filter"
	"github.com/roffe/canmon/pkg/frame"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const exportFile = "can_data_export.txt"

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor the CANbus for frames",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		s, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		var m *monitor
		eng, err := loadEngine(s.Monitor.Project, filter.OptOnChange(func([]filter.Rule) {
			if m != nil {
				m.g.Update(m.render)
			}
		}))
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

		g, err := gocui.NewGui(gocui.OutputNormal)
		if err != nil {
			port.Close()
			return err
		}
		g.Cursor = true
		g.InputEsc = true
		defer g.Close()

		m = &monitor{
			g:       g,
			stream:  stream,
			port:    port,
			eng:     eng,
			project: s.Monitor.Project,
			log:     newFrameLog(s.Monitor.MaxRows),
			input:   ui.NewInput("rule", "Rule (Ctrl-F)", 0, 0, 30, 60),
		}
		g.SetManagerFunc(m.layout)
		if err := m.keybindings(); err != nil {
			port.Close()
			return err
		}

		eg, gctx := errgroup.WithContext(ctx)
		if err := stream.Start(gctx); err != nil {
			stream.Close()
			return err
		}
		eg.Go(func() error {
			m.consume()
			return nil
		})
		eg.Go(func() error {
			m.events()
			return nil
		})
		eg.Go(func() error {
			<-gctx.Done()
			g.Update(quit)
			return nil
		})

		err = g.MainLoop()
		cancel()
		stream.Close()
		eg.Wait()
		if serr := stream.Wait(); serr != nil {
			return serr
		}
		if err != nil && err != gocui.ErrQuit {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

// adapter is the part of the serial port the monitor reconfigures
type adapter interface {
	Reset() error
	SetCANRate(bps int) error
}

// monitor owns the terminal views. Its fields are only touched from gocui
// callbacks which run on the main loop goroutine.
type monitor struct {
	g       *gocui.Gui
	stream  *canmon.Stream
	port    adapter
	eng     *filter.Engine
	project string
	log     *frameLog
	input   *ui.Input
}

// consume batches results so the views are redrawn at most every 50ms
func (m *monitor) consume() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	var batch []canmon.Result
	for {
		select {
		case r, ok := <-m.stream.Results():
			if !ok {
				m.flush(batch)
				return
			}
			batch = append(batch, r)
		case <-ticker.C:
			if len(batch) > 0 {
				m.flush(batch)
				batch = nil
			}
		}
	}
}

func (m *monitor) flush(batch []canmon.Result) {
	m.g.Update(func(g *gocui.Gui) error {
		packets, err := g.View("packets")
		if err != nil {
			return err
		}
		var trimmed bool
		for _, r := range batch {
			if m.log.add(r.Frame, r.Visible) {
				trimmed = true
			}
		}
		if trimmed {
			return m.render(g)
		}
		for _, r := range batch {
			if r.Visible {
				writeFrame(packets, r.Frame)
			}
		}
		return m.updateInfo(g)
	})
}

func (m *monitor) events() {
	for {
		select {
		case e := <-m.stream.Events():
			m.printErr(e.String())
		case <-m.stream.Done():
			return
		}
	}
}

func (m *monitor) printErr(msg string) {
	m.g.Update(func(g *gocui.Gui) error {
		v, err := g.View("errors")
		if err != nil {
			return err
		}
		fmt.Fprintf(v, "%s %s\n", time.Now().Format("15:04:05"), msg)
		return nil
	})
}

func writeFrame(v *gocui.View, f *frame.CANFrame) {
	fmt.Fprintf(v, " %s || %s\n", f.Timestamp.Format(export.TimeFormat), f.String())
}

// render rebuilds the frame view from the frame log with the current rules
func (m *monitor) render(g *gocui.Gui) error {
	packets, err := g.View("packets")
	if err != nil {
		return err
	}
	packets.Clear()
	for _, f := range m.log.visibleFrames(m.eng) {
		writeFrame(packets, f)
	}
	if err := m.updateRules(g); err != nil {
		return err
	}
	return m.updateInfo(g)
}

func (m *monitor) updateInfo(g *gocui.Gui) error {
	info, err := g.View("info")
	if err != nil {
		return err
	}
	st := m.stream.Stats()
	info.Clear()
	fmt.Fprintf(info, "frames:    %d\n", m.log.total)
	fmt.Fprintf(info, "visible:   %d\n", m.log.visible)
	fmt.Fprintf(info, "in buffer: %d\n", m.log.len())
	fmt.Fprintf(info, "rules:     %d\n", m.eng.Len())
	fmt.Fprintf(info, "checksum:  %d\n", st.ChecksumErrors)
	fmt.Fprintf(info, "length:    %d\n", st.LengthErrors)
	fmt.Fprintf(info, "type:      %d\n", st.TypeErrors)
	return nil
}

func (m *monitor) updateRules(g *gocui.Gui) error {
	v, err := g.View("rules")
	if err != nil {
		return err
	}
	v.Clear()
	for i, r := range m.eng.Rules() {
		fmt.Fprintf(v, "%2d %s\n", i+1, r)
	}
	return nil
}

func (m *monitor) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	if v, err := g.SetView("info", 0, 0, 30, 8); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Info"
	}

	if v, err := g.SetView("rules", 0, 9, 30, maxY-19); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Rules"
		v.Wrap = true
		if err := m.updateRules(g); err != nil {
			return err
		}
	}

	m.input.Y = maxY - 18
	if err := m.input.Layout(g); err != nil {
		return err
	}

	if v, err := g.SetView("help", 0, maxY-15, 30, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Help"
		v.Wrap = true
		fmt.Fprintln(v, "<Q, Ctrl-C> Quit")
		fmt.Fprintln(v, "<Space> Autoscroll")
		fmt.Fprintln(v, "<Ctrl-F> Edit rules")
		fmt.Fprintln(v, "<Esc> Back to frames")
		fmt.Fprintln(v, "<Ctrl-S> Save project")
		fmt.Fprintln(v, "<Ctrl-E> Export visible")
		fmt.Fprintln(v, "<Ctrl-R> Reset adapter")
		fmt.Fprintln(v, "<C> Clear frames")
		fmt.Fprintln(v, "<X> Clear rules")
		fmt.Fprintln(v, "rule: +id 0x123")
		fmt.Fprintln(v, "      -data FF ??")
		fmt.Fprintln(v, "      rm 2, toggle 1")
		fmt.Fprintln(v, "      rate 250000")
	}

	if v, err := g.SetView("packets", 31, 0, maxX-1, maxY-8); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.SelFgColor = gocui.ColorCyan
		v.Autoscroll = true
		v.Highlight = true
		v.Title = "Frame view"
		if _, err := g.SetCurrentView("packets"); err != nil {
			return err
		}
	}

	if v, err := g.SetView("errors", 31, maxY-7, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Autoscroll = true
		v.Wrap = true
		v.Title = "Log"
	}

	return nil
}

// submit handles a line typed into the rule input
func (m *monitor) submit(g *gocui.Gui, v *gocui.View) error {
	line := m.input.Submit(v)
	if line == "" {
		_, err := g.SetCurrentView("packets")
		return err
	}
	msg, err := m.applyCommand(line)
	if err != nil {
		m.printErr(err.Error())
		return nil
	}
	m.printErr(msg)
	return nil
}

// applyCommand runs "rm N", "toggle N", "rate BPS" or adds a rule expression.
// Rule changes redraw the views through the engine's change hook.
func (m *monitor) applyCommand(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 2 && fields[0] == "rate" {
		bps, err := strconv.Atoi(fields[1])
		if err != nil {
			return "", fmt.Errorf("invalid CAN rate %q", fields[1])
		}
		if err := m.port.SetCANRate(bps); err != nil {
			return "", err
		}
		m.stream.Resync()
		return fmt.Sprintf("CAN rate set to %d bit/s", bps), nil
	}
	if len(fields) == 2 && (fields[0] == "rm" || fields[0] == "toggle") {
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return "", fmt.Errorf("invalid rule index %q", fields[1])
		}
		rules := m.eng.Rules()
		if n < 1 || n > len(rules) {
			return "", fmt.Errorf("%w: %d", filter.ErrUnknownRule, n)
		}
		r := rules[n-1]
		if fields[0] == "rm" {
			if err := m.eng.Remove(r.ID); err != nil {
				return "", err
			}
			return "removed " + r.String(), nil
		}
		r, err = m.eng.Toggle(r.ID)
		if err != nil {
			return "", err
		}
		return "toggled " + r.String(), nil
	}
	r, err := m.eng.AddExpr(line)
	if err != nil {
		return "", err
	}
	return "added " + r.String(), nil
}

// resetAdapter flushes the adapter, resends its settings and drops the
// partial frame the decoder was holding
func (m *monitor) resetAdapter(g *gocui.Gui, v *gocui.View) error {
	if err := m.port.Reset(); err != nil {
		m.printErr(err.Error())
		return nil
	}
	m.stream.Resync()
	m.printErr("adapter reset")
	return nil
}

func (m *monitor) save(g *gocui.Gui, v *gocui.View) error {
	if err := saveEngine(m.project, m.eng); err != nil {
		m.printErr(err.Error())
		return nil
	}
	m.printErr(fmt.Sprintf("saved %d rules to %s", m.eng.Len(), m.project))
	return nil
}

func (m *monitor) export(g *gocui.Gui, v *gocui.View) error {
	frames := m.log.visibleFrames(m.eng)
	if len(frames) == 0 {
		m.printErr("nothing to export")
		return nil
	}
	n, err := export.File(exportFile, frames)
	if err != nil {
		m.printErr(err.Error())
		return nil
	}
	m.printErr(fmt.Sprintf("exported %d rows to %s", n, exportFile))
	return nil
}

func quit(g *gocui.Gui) error {
	return gocui.ErrQuit
}

func quitKey(g *gocui.Gui, v *gocui.View) error {
	return gocui.ErrQuit
}

func flipAutoscroll(g *gocui.Gui, v *gocui.View) error {
	v.Autoscroll = !v.Autoscroll
	return nil
}

func focus(name string) func(g *gocui.Gui, v *gocui.View) error {
	return func(g *gocui.Gui, v *gocui.View) error {
		_, err := g.SetCurrentView(name)
		return err
	}
}

func move(dy int) func(g *gocui.Gui, v *gocui.View) error {
	return func(g *gocui.Gui, v *gocui.View) error {
		v.Autoscroll = false
		v.MoveCursor(0, dy, false)
		return nil
	}
}

type binding struct {
	view    string
	key     interface{}
	handler func(*gocui.Gui, *gocui.View) error
}

func (m *monitor) keybindings() error {
	bindings := []binding{
		{"", gocui.KeyCtrlC, quitKey},
		{"", gocui.KeyCtrlS, m.save},
		{"", gocui.KeyCtrlE, m.export},
		{"", gocui.KeyCtrlR, m.resetAdapter},
		{"packets", 'q', quitKey},
		{"packets", gocui.KeyCtrlF, focus("rule")},
		{"packets", gocui.KeySpace, flipAutoscroll},
		{"packets", gocui.KeyArrowUp, move(-1)},
		{"packets", gocui.KeyArrowDown, move(1)},
		{"packets", gocui.KeyPgup, move(-10)},
		{"packets", gocui.KeyPgdn, move(10)},
		{"packets", 'c', func(g *gocui.Gui, v *gocui.View) error {
			m.log.clear()
			v.Autoscroll = true
			v.Clear()
			v.SetOrigin(0, 0)
			return m.updateInfo(g)
		}},
		{"packets", 'x', func(g *gocui.Gui, v *gocui.View) error {
			m.eng.Clear()
			m.printErr("rules cleared")
			return nil
		}},
		{"rule", gocui.KeyEnter, m.submit},
		{"rule", gocui.KeyEsc, focus("packets")},
		{"rule", gocui.KeyCtrlF, focus("packets")},
	}
	for _, b := range bindings {
		if err := m.g.SetKeybinding(b.view, b.key, gocui.ModNone, b.handler); err != nil {
			return fmt.Errorf("failed to bind key: %w", err)
		}
	}
	return nil
}
