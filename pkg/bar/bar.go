// Package bar renders byte progress for long running file work.
package bar

import (
	"io"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

type options struct {
	w     io.Writer
	width int
}

type Opt func(*options)

// OptWriter sends the bar to w instead of stdout
func OptWriter(w io.Writer) Opt {
	return func(o *options) {
		o.w = w
	}
}

func OptWidth(width int) Opt {
	return func(o *options) {
		o.width = width
	}
}

func New(size int64, text string, opts ...Opt) *progressbar.ProgressBar {
	o := &options{
		w:     ansi.NewAnsiStdout(),
		width: 20,
	}
	for _, opt := range opts {
		opt(o)
	}
	return progressbar.NewOptions64(
		size,
		progressbar.OptionSetWriter(o.w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(o.width),
		progressbar.OptionSetDescription("[cyan]"+text+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

type reader struct {
	progressbar.Reader
	bar *progressbar.ProgressBar
	src io.Closer
}

func (r *reader) Close() error {
	r.bar.Finish()
	return r.src.Close()
}

// Reader advances b by every byte read from r. Closing it finishes the bar
// and closes r.
func Reader(r io.ReadCloser, b *progressbar.ProgressBar) io.ReadCloser {
	return &reader{
		Reader: progressbar.NewReader(r, b),
		bar:    b,
		src:    r,
	}
}
