package main

import (
	"context"
	"fmt"
	"time"

	"github.com/e7canasta/orion-liveview/modules/pipeline"
)

// reportStats periodically prints statistics from all pipeline components
func reportStats(ctx context.Context, interval time.Duration, ctrl *pipeline.Controller, sinks *sinkSet) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printLiveStats(time.Since(startTime), ctrl, sinks)
		}
	}
}

// printLiveStats prints current statistics from all components
func printLiveStats(uptime time.Duration, ctrl *pipeline.Controller, sinks *sinkSet) {
	st := ctrl.Stats()
	ds := st.Dispatch

	fmt.Println()
	fmt.Println("╭─────────────────────────────────────────────────────────────────╮")
	fmt.Printf("│ Live View Statistics (Uptime: %v, %s)\n", uptime.Round(time.Second), st.State)
	fmt.Println("├─────────────────────────────────────────────────────────────────┤")

	// Capture + dispatch
	fmt.Println("│ Capture:")
	fmt.Printf("│   Frames Captured:    %6d frames\n", ds.Captured)
	fmt.Printf("│   Conversion Errors:  %6d frames\n", ds.ConversionErrors)
	fmt.Printf("│   Inbox Drops:        %6d frames (%.1f%%)\n", ds.InboxDrops, dropRate(ds.Captured, ds.InboxDrops))
	if st.Session != "" {
		fmt.Printf("│   Session:            %s\n", st.Session)
	}

	fmt.Println("│")
	fmt.Println("│ Processing:")
	fmt.Printf("│   Processed:          %6d frames\n", ds.Processed)
	fmt.Printf("│   Failures:           %6d frames\n", ds.ProcessingFailures)
	fmt.Printf("│   Outbox Drops:       %6d frames\n", ds.OutboxDrops)
	fmt.Printf("│   Latency:            last=%v mean=%v\n",
		ds.LastLatency.Round(time.Microsecond),
		ds.MeanLatency.Round(time.Microsecond))

	if d := st.Display; d != nil {
		fmt.Println("│")
		fmt.Println("│ Display:")
		fmt.Printf("│   Resolution:         %dx%d\n", d.Width, d.Height)
		fmt.Printf("│   FPS:                %6.1f fps\n", d.FPS)
		fmt.Printf("│   Frames Shown:       %6d frames\n", d.Frames)
		fmt.Printf("│   Reallocations:      %6d\n", d.Texture.Reallocations)
		fmt.Printf("│   Upload Failures:    %6d\n", d.Texture.Failures)
		if d.Summary.Windows >= 2 {
			fmt.Printf("│   Stability:          mean=%.1f stddev=%.2f stable=%v\n",
				d.Summary.Mean, d.Summary.StdDev, d.Summary.Stable)
		}
	}

	if len(sinks.ids) > 0 {
		fmt.Println("│")
		fmt.Println("│ Metric Sinks:")
		for _, id := range sinks.ids {
			ss, err := sinks.fanout.Stats(id)
			if err != nil {
				continue
			}
			fmt.Printf("│   %-15s: %4d sent, %3d dropped\n", id, ss.Sent, ss.Dropped)
		}
		if sinks.hub != nil {
			fmt.Printf("│   Viewers:            %6d\n", sinks.hub.Viewers())
		}
	}

	fmt.Println("╰─────────────────────────────────────────────────────────────────╯")
	fmt.Println()
}

// printFinalStats prints final statistics at shutdown
func printFinalStats(ctrl *pipeline.Controller, sinks *sinkSet) {
	st := ctrl.Stats()
	ds := st.Dispatch

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("                     Final Statistics                         ")
	fmt.Println("═══════════════════════════════════════════════════════════════")

	fmt.Printf("  Pipeline Runs:         %d\n", st.Runs)
	fmt.Printf("  Frames Captured:       %d frames\n", ds.Captured)
	fmt.Printf("  Inbox Drops:           %d frames (%.1f%%)\n", ds.InboxDrops, dropRate(ds.Captured, ds.InboxDrops))
	fmt.Printf("  Frames Processed:      %d\n", ds.Processed)
	fmt.Printf("  Processing Failures:   %d\n", ds.ProcessingFailures)
	fmt.Printf("  Mean Latency:          %v\n", ds.MeanLatency.Round(time.Microsecond))

	if d := st.Display; d != nil {
		fmt.Println()
		fmt.Printf("  Frames Shown:          %d\n", d.Frames)
		if d.Summary.Windows > 0 {
			fmt.Printf("  Average FPS:           %.1f fps (min %.1f, max %.1f)\n", d.Summary.Mean, d.Summary.Min, d.Summary.Max)
		}
		fmt.Printf("  Texture Reallocations: %d\n", d.Texture.Reallocations)
	}

	if len(sinks.ids) > 0 {
		fmt.Println()
		fmt.Println("  Metric Sinks:")
		for _, id := range sinks.ids {
			// The fanout is still open here; sinks close after this report.
			if ss, err := sinks.fanout.Stats(id); err == nil {
				fmt.Printf("    %-15s: %d sent, %d dropped\n", id, ss.Sent, ss.Dropped)
			}
		}
	}

	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()
}

// dropRate calculates drop percentage
func dropRate(total, drops uint64) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(drops) / float64(total) * 100.0
}
