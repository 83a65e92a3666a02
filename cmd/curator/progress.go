package main

import (
	"fmt"
	"io"
	"os"

	"curator/internal/core"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// trackProgress draws a progress bar per stage from the events of one
// session. The returned function stops tracking once the command is done.
func trackProgress(bus *core.EventBus, session string, w io.Writer) func() {
	if f, ok := w.(*os.File); !ok || !isatty.IsTerminal(f.Fd()) {
		return func() {}
	}

	events, cancel := bus.Subscribe(256)
	done := make(chan struct{})

	go func() {
		defer close(done)
		var bar *progressbar.ProgressBar
		var stage string
		for e := range events {
			if e.Session != session || e.Type != core.EventProgress || e.Total <= 0 {
				continue
			}
			if bar == nil || stage != e.Stage {
				if bar != nil {
					_ = bar.Finish()
				}
				stage = e.Stage
				bar = newBar(w, e.Stage, e.Total)
			}
			_ = bar.Set(e.Done)
		}
		if bar != nil {
			_ = bar.Finish()
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func newBar(w io.Writer, stage string, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset]", stage)),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
}
