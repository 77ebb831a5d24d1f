package ui

import (
	"strings"

	"github.com/jroimartin/gocui"
)

// Input is a single line editable view with a submit history
type Input struct {
	Name      string
	Title     string
	X, Y      int
	W         int
	MaxLength int

	history []string
	pos     int
}

func NewInput(name, title string, x, y, w, maxLength int) *Input {
	return &Input{Name: name, Title: title, X: x, Y: y, W: w, MaxLength: maxLength}
}

func (i *Input) Layout(g *gocui.Gui) error {
	v, err := g.SetView(i.Name, i.X, i.Y, i.X+i.W, i.Y+2)
	if err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = i.Title
		v.Editor = i
		v.Editable = true
	}
	return nil
}

func (i *Input) Edit(v *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) {
	cx, _ := v.Cursor()
	ox, _ := v.Origin()
	limit := ox+cx+1 > i.MaxLength
	switch {
	case ch != 0 && mod == 0 && !limit:
		v.EditWrite(ch)
	case key == gocui.KeySpace && !limit:
		v.EditWrite(' ')
	case key == gocui.KeyBackspace || key == gocui.KeyBackspace2:
		v.EditDelete(true)
	case key == gocui.KeyDelete:
		v.EditDelete(false)
	case key == gocui.KeyArrowLeft:
		v.MoveCursor(-1, 0, false)
	case key == gocui.KeyArrowRight:
		if cx < len(i.Value(v)) {
			v.MoveCursor(1, 0, false)
		}
	case key == gocui.KeyArrowUp:
		i.set(v, i.prev())
	case key == gocui.KeyArrowDown:
		i.set(v, i.next())
	}
}

func (i *Input) Value(v *gocui.View) string {
	return strings.TrimSpace(v.Buffer())
}

// Submit returns the current line, records it in the history and clears the view
func (i *Input) Submit(v *gocui.View) string {
	s := i.Value(v)
	i.push(s)
	i.set(v, "")
	return s
}

func (i *Input) set(v *gocui.View, s string) {
	v.Clear()
	v.SetOrigin(0, 0)
	v.SetCursor(0, 0)
	for _, ch := range s {
		v.EditWrite(ch)
	}
}

func (i *Input) push(s string) {
	if s != "" && (len(i.history) == 0 || i.history[len(i.history)-1] != s) {
		i.history = append(i.history, s)
	}
	i.pos = len(i.history)
}

func (i *Input) prev() string {
	if len(i.history) == 0 {
		return ""
	}
	if i.pos > 0 {
		i.pos--
	}
	return i.history[i.pos]
}

func (i *Input) next() string {
	if i.pos < len(i.history) {
		i.pos++
	}
	if i.pos == len(i.history) {
		return ""
	}
	return i.history[i.pos]
}
