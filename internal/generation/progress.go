package generation

import (
	"sync"
	"time"

	"github.com/mudd00/sensorgamehub-sub001/internal/event"
	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

// Progress checkpoints.
const (
	percentRetrieval  = 10
	percentPrompt     = 20
	percentStreaming  = 25
	percentStreamCap  = 90
	percentExtraction = 95
	percentDone       = 100
)

// progress publishes a run's events. Percentages never go backwards.
type progress struct {
	bus       *event.Bus[schema.ProgressEvent]
	sessionID string
	runID     string

	mu   sync.Mutex
	step int
	last int
}

func newProgress(bus *event.Bus[schema.ProgressEvent], sessionID, runID string) *progress {
	return &progress{bus: bus, sessionID: sessionID, runID: runID}
}

func (p *progress) emit(pct int, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pct < p.last {
		pct = p.last
	}
	if pct > percentDone {
		pct = percentDone
	}
	p.last = pct
	ev := schema.ProgressEvent{
		SessionID:  p.sessionID,
		RunID:      p.runID,
		StepIndex:  p.step,
		Percentage: pct,
		Message:    msg,
		At:         time.Now(),
	}
	p.step++
	if p.bus != nil {
		p.bus.Publish(ev)
	}
}

// bucketPercent maps elapsed streaming time onto the 25..90 band.
func bucketPercent(elapsed, expected time.Duration) int {
	if expected <= 0 {
		return percentStreamCap
	}
	pct := percentStreaming + int(65*float64(elapsed)/float64(expected))
	if pct > percentStreamCap {
		return percentStreamCap
	}
	return pct
}

// tick emits a time-bucketed event every interval until stop is called.
func (p *progress) tick(interval, expected time.Duration) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	start := time.Now()
	wg.Go(func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				p.emit(bucketPercent(time.Since(start), expected), "Generating game code")
			}
		}
	})
	return func() {
		close(done)
		wg.Wait()
	}
}
