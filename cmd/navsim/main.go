// Command navsim replays a YAML scenario through the navigator and prints
// speech, events and map updates to the console.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/geolocation"
	"github.com/danghamo/haulnav/internal/mapview"
	"github.com/danghamo/haulnav/internal/navigation"
	"github.com/danghamo/haulnav/pkg/logger"
)

func main() {
	verbose := flag.Bool("v", false, "print every map patch and step event")
	logLevel := flag.String("log", "warn", "log level")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: navsim [flags] scenario.yaml\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	log, err := logger.New(logger.Config{
		Level:       logger.ParseLevel(*logLevel),
		Environment: "development",
		Encoding:    "console",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	sc, err := LoadScenario(flag.Arg(0))
	if err != nil {
		log.Fatal("Failed to load scenario", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := Run(ctx, sc, os.Stdout, log, *verbose)
	if err != nil {
		log.Fatal("Simulation failed", zap.Error(err))
	}

	snap := sum.Snapshot
	fmt.Printf("\narrived=%t steps_announced=%d thresholds=%v traveled=%.0fm fixes=%d spoken=%d events=%d patches=%d\n",
		snap.Arrived, snap.LastAnnouncedStepIndex+1, snap.NotifiedThresholdsKm, snap.TraveledMeters,
		sum.Samples, sum.Spoken, sum.Events, sum.Patches)
}

// Run plays sc until the trail ends. Cancelling ctx or reaching the
// scenario's cancel_after interrupts the navigation as a deal
// cancellation would.
func Run(ctx context.Context, sc *Scenario, out io.Writer, log *logger.Logger, verbose bool) (summary, error) {
	route, err := sc.BuildRoute(ctx, log)
	if err != nil {
		return summary{}, err
	}
	phrasebook, err := navigation.LoadPhrasebook(sc.Locale)
	if err != nil {
		return summary{}, err
	}

	c := newConsole(out, verbose)
	source := &geolocation.Replay{Fixes: sc.Fixes(route, time.Now()), Interval: sc.Interval}
	nav := navigation.NewNavigator(navigation.Config{
		DealID:     sc.DealID,
		CarrierID:  "navsim",
		Route:      route,
		Phrasebook: phrasebook,
		FollowMode: sc.FollowMode,
	}, source, navigation.Sinks{
		Announcer: c,
		Renderer:  mapview.NewRenderer(c, log),
		Recorder:  c,
		Notifier:  c,
	}, log)

	c.printf("START", "%d steps, %s, %d fixes", len(route.Steps), route.Distance.Text, len(source.Fixes))

	// the run must outlive ctx so a signal becomes a cancellation
	if !nav.Start(context.Background()) {
		return summary{}, errors.New("navigator did not start")
	}

	var deadline <-chan time.Time
	if sc.CancelAfter > 0 {
		timer := time.NewTimer(sc.CancelAfter)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-nav.Done():
	case <-ctx.Done():
		nav.Cancel("interrupted")
	case <-deadline:
		nav.Cancel("cancel_after elapsed")
	}

	snap, _ := nav.Snapshot()
	return c.summary(snap), nil
}
