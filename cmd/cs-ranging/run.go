package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/cs-ranging/internal/config"
	"github.com/banshee-data/cs-ranging/internal/cs/logparse"
	"github.com/banshee-data/cs-ranging/internal/db"
	"github.com/banshee-data/cs-ranging/internal/fsutil"
	"github.com/banshee-data/cs-ranging/internal/monitor"
	"github.com/banshee-data/cs-ranging/internal/monitoring"
	"github.com/banshee-data/cs-ranging/internal/pipeline"
	"github.com/banshee-data/cs-ranging/internal/publish"
	"github.com/banshee-data/cs-ranging/internal/serialmux"
	"github.com/banshee-data/cs-ranging/internal/source"
	"github.com/banshee-data/cs-ranging/internal/timeutil"
	"github.com/banshee-data/cs-ranging/internal/units"
	"github.com/banshee-data/cs-ranging/internal/version"
	"github.com/google/uuid"
)

// app wires one ranging run. Tests swap the filesystem, clock and serial
// opener.
type app struct {
	opts   *options
	cfg    *config.Config
	fs     fsutil.FileSystem
	clock  timeutil.Clock
	opener serialmux.SerialPortOpener
	stdout io.Writer
}

// side pairs a source with the name used in logs and raw log files.
type side struct {
	name string
	path string
	src  source.Source
	uart *source.UARTSource
}

func (a *app) openSources(ctx context.Context) ([2]*side, error) {
	sides := [2]*side{
		{name: pipeline.Initiator.String(), path: a.opts.initiator},
		{name: pipeline.Reflector.String(), path: a.opts.reflector},
	}
	closeAll := func() {
		for _, s := range sides {
			if s.src != nil {
				s.src.Close()
			}
		}
	}

	for _, s := range sides {
		asm := &logparse.Assembler{}
		if !a.opts.uart {
			src, err := source.OpenFile(a.fs, s.path, asm)
			if err != nil {
				closeAll()
				return sides, err
			}
			s.src = src
			continue
		}

		uopts := source.UARTOptions{Port: a.cfg.PortOptions(), Opener: a.opener, Assembler: asm}
		if a.opts.logUART {
			w, path, err := source.CreateRawLog(a.fs, a.cfg.GetRawLogDir(), s.name, a.clock.Now())
			if err != nil {
				closeAll()
				return sides, err
			}
			monitoring.Logf("cs-ranging: logging %s UART to %s", s.name, path)
			uopts.RawLog = w
		}
		src, err := source.OpenUART(ctx, s.path, uopts)
		if err != nil {
			closeAll()
			return sides, fmt.Errorf("open %s UART %s: %w", s.name, s.path, err)
		}
		s.src, s.uart = src, src
	}
	return sides, nil
}

// consoleHandler prints one line per pair.
func (a *app) consoleHandler(unit string) pipeline.NamedHandler {
	var mu sync.Mutex
	format := func(v *float64) string {
		if v == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.3f%s", units.ConvertDistance(*v, unit), unit)
	}
	return pipeline.NamedHandler{Name: "console", Handle: func(_ context.Context, p pipeline.Pair) error {
		mu.Lock()
		defer mu.Unlock()
		_, err := fmt.Fprintf(a.stdout, "counter=%d channels=%d music=%s phase_slope=%s\n",
			p.Counter, len(p.Result.Channels), format(p.Result.MusicDistanceM), format(p.Result.PhaseSlopeDistanceM))
		return err
	}}
}

// run performs one pipeline run and, unless disabled, keeps the viewer up
// until ctx is cancelled.
func (a *app) run(ctx context.Context) (*pipeline.Report, error) {
	runID := uuid.New()
	unit := a.cfg.GetDistanceUnit()
	rangingCfg := a.cfg.RangingOptions()
	monitoring.Logf("cs-ranging %s: run %s", version.String(), runID)

	store := monitor.NewStore(0, unit)
	handlers := []pipeline.NamedHandler{a.consoleHandler(unit), store.Handler()}

	var database *db.DB
	if path := a.cfg.GetDBPath(); path != "" {
		var err error
		database, err = db.NewDB(path)
		if err != nil {
			return nil, err
		}
		defer database.Close()
		handlers = append(handlers, database.Handler())
	}

	var publisher *publish.MQTTPublisher
	if broker := a.cfg.GetMQTTBroker(); broker != "" {
		var err error
		publisher, err = publish.NewMQTTPublisher(publish.Options{
			Broker:   broker,
			Topic:    a.cfg.GetMQTTTopic(),
			ClientID: a.cfg.GetMQTTClientID(),
			Username: a.cfg.GetMQTTUsername(),
			Password: a.cfg.GetMQTTPassword(),
			QoS:      a.cfg.GetMQTTQoS(),
			Unit:     unit,
		})
		if err != nil {
			return nil, err
		}
		defer publisher.Disconnect()
		handlers = append(handlers, publisher.Handler())
	}

	if dir := a.cfg.GetPlotDir(); dir != "" {
		handlers = append(handlers, monitor.NewPlotWriter(a.fs, dir, rangingCfg).Handler())
	}

	sides, err := a.openSources(ctx)
	if err != nil {
		return nil, err
	}
	closeSources := func() {
		for _, s := range sides {
			s.src.Close()
		}
	}

	serverCtx, stopServer := context.WithCancel(ctx)
	var serverWG sync.WaitGroup
	defer func() {
		stopServer()
		serverWG.Wait()
	}()
	if listen := a.cfg.GetListen(); listen != "" {
		srv, err := monitor.NewServer(monitor.ServerConfig{
			Address: listen,
			Store:   store,
			DB:      database,
			Ranging: rangingCfg,
			Clock:   a.clock,
		})
		if err != nil {
			closeSources()
			return nil, err
		}
		for _, s := range sides {
			if s.uart != nil {
				s.uart.Mux().AttachAdminRoutes(srv.Mux(), s.name)
			}
		}
		serverWG.Add(1)
		go func() {
			defer serverWG.Done()
			if err := srv.Start(serverCtx); err != nil {
				monitoring.Logf("cs-ranging: %v", err)
			}
		}()
	}

	// Every run row written here is finished below.
	if database != nil {
		if err := database.StartRun(ctx, runID, a.opts.initiator, a.opts.reflector, a.clock.Now()); err != nil {
			closeSources()
			return nil, err
		}
	}

	p := pipeline.New(pipeline.Options{
		QueueCapacity: a.cfg.GetQueueCapacity(),
		MaxPending:    a.cfg.GetMaxPending(),
		RunID:         runID,
		Ranging:       rangingCfg,
		Handler:       pipeline.Handlers(handlers...),
		Clock:         a.clock,
	})
	report, runErr := p.Run(ctx, sides[0].src, sides[1].src)

	// Bookkeeping outlives a cancelled run.
	finishCtx := context.WithoutCancel(ctx)
	if database != nil {
		if err := database.FinishRun(finishCtx, report); err != nil {
			monitoring.Logf("cs-ranging: recording run: %v", err)
		}
	}
	if publisher != nil {
		if err := publisher.PublishReport(finishCtx, report); err != nil {
			monitoring.Logf("cs-ranging: publishing report: %v", err)
		}
	}
	printReport(a.stdout, report)

	if a.cfg.GetListen() != "" && !a.opts.exitWhenDone && ctx.Err() == nil {
		monitoring.Logf("cs-ranging: run complete, viewer at http://%s (Ctrl-C to exit)", a.cfg.GetListen())
		<-ctx.Done()
	}
	return report, runErr
}

func printReport(w io.Writer, r *pipeline.Report) {
	fmt.Fprintf(w, "run %s: %s\n", r.RunID, r)
	for _, u := range r.Unmatched {
		fmt.Fprintf(w, "unmatched %s counter=%d reason=%s\n", u.Side, u.Counter, u.Reason)
	}
	for i, s := range r.Sides {
		if s.Err != nil {
			fmt.Fprintf(w, "%s source error: %v\n", pipeline.Side(i), s.Err)
		}
	}
}
