// Command stagetrack points a moving light at a tracked performer: OSC
// coordinates in, smoothed pan/tilt commands out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"stagetrack/bus"
	"stagetrack/services/config"
	"stagetrack/services/console"
	"stagetrack/services/fixture"
	_ "stagetrack/services/fixture/logonly"
	_ "stagetrack/services/fixture/mqttout"
	_ "stagetrack/services/fixture/oscmd"
	_ "stagetrack/services/fixture/servo"
	"stagetrack/services/heartbeat"
	"stagetrack/services/oscin"
	"stagetrack/services/tracker"
	"stagetrack/services/varstore"
)

const busQueueLen = 64

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "stagetrack:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("stagetrack", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultPath, "path to configuration file")
	debug := fs.Bool("debug", false, "enable debug logging")
	withConsole := fs.Bool("console", false, "read operator commands from stdin")
	check := fs.Bool("check", false, "validate configuration and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *check {
		fmt.Fprintf(stdout, "%s: ok (fixture=%s actuator=%s)\n", *configPath, cfg.Fixture.Type, cfg.Tracker.ActuatorID)
		return nil
	}

	if *debug {
		cfg.Log.Level = "debug"
	}
	logger := config.NewLogger(cfg.Log, stderr)
	slog.SetDefault(logger)
	logger.Info("starting stagetrack",
		"config", *configPath,
		"fixture", cfg.Fixture.Type,
		"actuator", cfg.Tracker.ActuatorID,
		"listen", cfg.OSCIn.Listen,
	)

	act, err := fixture.Build(cfg.Tracker.ActuatorID, cfg.Fixture, logger)
	if err != nil {
		return err
	}
	defer act.Close()

	b := bus.NewBus(busQueueLen)
	store := varstore.New(b.NewConnection("vars"), cfg.Registers)

	trackerDone := make(chan struct{})
	go func() {
		defer close(trackerDone)
		tracker.NewService(b.NewConnection("tracker"), store, act, logger).Run(ctx)
	}()
	go oscin.Start(ctx, b.NewConnection("oscin"), store, logger)
	if err := heartbeat.New(logger).Start(ctx, b.NewConnection("heartbeat")); err != nil {
		return err
	}

	cfgConn := b.NewConnection("config")
	cfgSvc := config.NewService(*configPath, logger)
	cfgSvc.Use(cfgConn, cfg)

	if *withConsole || cfg.Console.Enabled {
		con := console.New(b.NewConnection("console"), store, stdout, cfg.Console, logger)
		go func() {
			if err := con.Run(ctx, stdin); err != nil {
				logger.Warn("console stopped", "err", err)
			}
		}()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			// Let the last cycle finish before the fixture is closed.
			<-trackerDone
			return nil
		case <-hup:
			// Fixture and register names are fixed for the process lifetime.
			_ = cfgSvc.Reload(cfgConn)
		}
	}
}
