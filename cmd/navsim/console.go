package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/danghamo/haulnav/internal/mapview"
	"github.com/danghamo/haulnav/internal/navigation"
	"github.com/danghamo/haulnav/internal/tracking"
)

// console prints what a carrier device would hear and see. It serves as
// announcer, recorder, notifier and as the map renderer's publisher.
type console struct {
	out     io.Writer
	verbose bool
	start   time.Time

	mu      sync.Mutex
	spoken  []string
	events  []navigation.Event
	samples int
	patches int
}

func newConsole(out io.Writer, verbose bool) *console {
	return &console{out: out, verbose: verbose, start: time.Now()}
}

func (c *console) printf(tag, format string, args ...any) {
	elapsed := time.Since(c.start).Truncate(time.Millisecond)
	fmt.Fprintf(c.out, "%8s  %-6s %s\n", elapsed, tag, fmt.Sprintf(format, args...))
}

func (c *console) Speak(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spoken = append(c.spoken, text)
	c.printf("SPEAK", "%s", text)
}

func (c *console) Cancel() {
	if c.verbose {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.printf("SPEAK", "(silenced)")
	}
}

func (c *console) Record(sample tracking.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples++
}

func (c *console) Notify(event navigation.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)

	switch event.Kind {
	case navigation.EventProximity:
		c.printf("EVENT", "%s %.1f km", event.Kind, event.ThresholdKm)
	case navigation.EventStepAnnounced:
		if c.verbose && event.StepIndex != nil {
			c.printf("EVENT", "%s #%d", event.Kind, *event.StepIndex)
		}
	default:
		c.printf("EVENT", "%s %s", event.Kind, event.ErrorCode)
	}
}

// Publish implements mapview.Publisher
func (c *console) Publish(method string, params any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch method {
	case mapview.MethodRoute:
		msg, _ := params.(mapview.RouteMessage)
		features := 0
		if msg.Route != nil {
			features = len(msg.Route.Features)
		}
		c.printf("MAP", "route drawn, %d features", features)
	case mapview.MethodRecenter:
		c.printf("MAP", "recentered")
	default:
		c.patches++
		if c.verbose {
			c.printf("MAP", "%s %s", method, params)
		}
	}
}

// summary is what the run left behind
type summary struct {
	Snapshot navigation.SessionSnapshot
	Spoken   int
	Events   int
	Samples  int
	Patches  int
}

func (c *console) summary(snap navigation.SessionSnapshot) summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return summary{
		Snapshot: snap,
		Spoken:   len(c.spoken),
		Events:   len(c.events),
		Samples:  c.samples,
		Patches:  c.patches,
	}
}
