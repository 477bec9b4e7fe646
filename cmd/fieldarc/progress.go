package main

import (
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/spf13/cobra"

	"github.com/meigma/fieldarchive"
)

// startProgress renders one tracker per stage on standard error. The
// returned stop function blocks until rendering has finished.
func startProgress(cmd *cobra.Command) (fieldarchive.ProgressFunc, func()) {
	pw := progress.NewWriter()
	pw.SetOutputWriter(cmd.ErrOrStderr())
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.SetAutoStop(false)
	pw.SetTrackerPosition(progress.PositionRight)

	var (
		mu       sync.Mutex
		trackers = make(map[fieldarchive.ProgressStage]*progress.Tracker)
		totals   = make(map[fieldarchive.ProgressStage]int)
	)
	fn := func(ev fieldarchive.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		tr, ok := trackers[ev.Stage]
		if !ok {
			tr = &progress.Tracker{Message: ev.Stage.String(), Total: int64(ev.Total), Units: progress.UnitsDefault}
			trackers[ev.Stage] = tr
			totals[ev.Stage] = ev.Total
			pw.AppendTracker(tr)
		}
		if ev.Total > 0 && totals[ev.Stage] != ev.Total {
			totals[ev.Stage] = ev.Total
			tr.UpdateTotal(int64(ev.Total))
		}
		tr.SetValue(int64(ev.Done))
		if ev.Total > 0 && ev.Done >= ev.Total {
			tr.MarkAsDone()
		}
	}

	go pw.Render()

	stop := func() {
		mu.Lock()
		for _, tr := range trackers {
			if !tr.IsDone() {
				tr.MarkAsDone()
			}
		}
		mu.Unlock()
		pw.Stop()
		for pw.IsRenderInProgress() {
			select {
			case <-cmd.Context().Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
	return fn, stop
}
