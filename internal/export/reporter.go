package export

import (
	"fmt"
	"io"
)

// Reporter receives user-facing progress. Progress is called after every
// record; exactly one of Done or Fail ends a run, always preceded by Clear.
type Reporter interface {
	Progress(done, total int)
	Clear()
	Done(message string)
	Fail(message string)
}

type NopReporter struct{}

func (NopReporter) Progress(int, int) {}
func (NopReporter) Clear()            {}
func (NopReporter) Done(string)       {}
func (NopReporter) Fail(string)       {}

// LineReporter writes progress to one writer, redrawing the indicator in
// place, and terminal messages to another.
type LineReporter struct {
	Status io.Writer
	Result io.Writer
	Prefix string
	shown  bool
}

func NewLineReporter(progress, result io.Writer, prefix string) *LineReporter {
	return &LineReporter{Status: progress, Result: result, Prefix: prefix}
}

func (r *LineReporter) Progress(done, total int) {
	fmt.Fprintf(r.Status, "\r%s %s", r.Prefix, ProgressText(done, total))
	r.shown = true
}

func (r *LineReporter) Clear() {
	if r.shown {
		fmt.Fprint(r.Status, "\r\033[K")
		r.shown = false
	}
}

func (r *LineReporter) Done(message string) { fmt.Fprintln(r.Result, message) }

func (r *LineReporter) Fail(message string) { fmt.Fprintln(r.Result, message) }
