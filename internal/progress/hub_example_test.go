package progress

import (
	"context"
	"fmt"
	"time"
)

// ExampleHub_Emit tallies alerts by severity as batches are flushed.
func ExampleHub_Emit() {
	bySeverity := map[string]int{}
	tally := SinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageAlert {
				bySeverity[evt.Severity]++
			}
		}
		return nil
	})
	hub := NewHub(Config{BufferSize: 8, MaxBatchWait: time.Second}, tally)

	for _, sev := range []string{"high", "medium", "high"} {
		hub.Emit(Event{
			CompetitorID: "acme",
			TS:           time.Unix(0, 0),
			Stage:        StageAlert,
			AlertType:    "price_change",
			Severity:     sev,
		})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("high=%d medium=%d\n", bySeverity["high"], bySeverity["medium"])
	// Output:
	// high=2 medium=1
}

// ExampleHub_Close shows progress updates for one scan collapsing into the
// last one reported before a flush.
func ExampleHub_Close() {
	var seen []int
	capture := SinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageScanProgress {
				seen = append(seen, evt.Percent)
			}
		}
		return nil
	})
	hub := NewHub(Config{BufferSize: 8, MaxBatchWait: time.Minute}, capture)

	for _, pct := range []int{10, 35, 80} {
		hub.Emit(Event{ScanID: "scan-7", TS: time.Unix(0, 0), Stage: StageScanProgress, Percent: pct})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Println(seen)
	// Output:
	// [80]
}
