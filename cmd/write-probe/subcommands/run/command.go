// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

// Package run implements 'write-probe run'.
package run

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cihub/seelog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"github.com/DataDog/vfs-write-probe/cmd/write-probe/command"
	"github.com/DataDog/vfs-write-probe/pkg/config"
	"github.com/DataDog/vfs-write-probe/pkg/util/log"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe/controller"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe/kernel"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe/telemetry"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe/tracepipe"
)

const stopTimeout = 10 * time.Second

// cliParams are the command-line arguments for this subcommand
type cliParams struct {
	*command.GlobalParams

	unpin bool
}

// runFlagKeys maps the run flags to the configuration keys they override
var runFlagKeys = map[string]string{
	"policy": config.PolicyFile,
	"mode":   config.ProbeMode,
}

// Commands returns the run command
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	params := &cliParams{GlobalParams: globalParams}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Load the probe and report writes to protected files",
		Long: `Load and attach the probe, keep the registry in sync with the policy file and
log every write to a protected file read back from the kernel trace pipe.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(params, cmd.Flags())
		},
	}
	runCmd.Flags().String("policy", "", "policy file, overrides policy.file")
	runCmd.Flags().String("mode", "", "filtered or baseline, overrides probe.mode")
	runCmd.Flags().BoolVar(&params.unpin, "unpin", false, "remove the pinned registry on exit")

	return []*cobra.Command{runCmd}
}

func run(params *cliParams, flags *pflag.FlagSet) error {
	cfg, settings, err := params.SetupWithFlags("", flags, runFlagKeys)
	if err != nil {
		return err
	}

	var services *services
	app := fx.New(
		fx.Supply(cfg, settings, params),
		fx.Provide(
			newProbe,
			newTelemetry,
			newController,
			newTraceReader,
			newServices,
		),
		fx.Invoke(watchLogLevel),
		fx.Populate(&services),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	sig := <-app.Done()
	log.Infof("received %s, stopping", sig)

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	stopErr := app.Stop(stopCtx)
	return errors.Join(services.err, stopErr)
}

func newProbe(lc fx.Lifecycle, s config.Settings, params *cliParams) (*kernel.Probe, error) {
	p, err := kernel.Load(kernel.Options{
		Mode:        s.Mode,
		AttachPoint: s.AttachPoint,
		MaxEntries:  s.MaxEntries,
		PinDir:      s.PinDir,
	})
	if err != nil {
		return nil, fmt.Errorf("loading probe: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			if params.unpin {
				if err := p.Unpin(); err != nil {
					_ = log.Warnf("unpinning registry: %s", err)
				}
			}
			return p.Close()
		},
	})
	return p, nil
}

func newTelemetry() *telemetry.Telemetry {
	return telemetry.New()
}

func newController(p *kernel.Probe, tel *telemetry.Telemetry) *controller.Controller {
	tel.RegisterRegistry(p.Registry.Len, p.Registry.LookupFailures)
	return controller.New(p.Registry, controller.WithSyncHook(tel.SetProtectedPaths))
}

func newTraceReader(s config.Settings, tel *telemetry.Telemetry) (*tracepipe.Reader, error) {
	message := writeprobe.TraceMessage
	handler := func(ev tracepipe.Event) {
		log.Infof("protected file written by %s (pid %d) on cpu %d", ev.Comm, ev.PID, ev.CPU)
	}
	if s.Mode == writeprobe.ModeBaseline {
		message = writeprobe.BaselineMessage
		handler = func(ev tracepipe.Event) {
			// every write on the host goes through here
			if log.ShouldLog(seelog.TraceLvl) {
				log.Tracef("vfs_write by %s (pid %d)", ev.Comm, ev.PID)
			}
		}
	}

	r, err := tracepipe.NewReader(s.TracePipePath, handler, message)
	if err != nil {
		return nil, err
	}
	tel.RegisterTraceReader(r.Stats)
	return r, nil
}

// watchLogLevel applies the log level of the configuration file on SIGHUP
func watchLogLevel(lc fx.Lifecycle, cfg *config.Config) {
	hup := make(chan os.Signal, 1)
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			signal.Notify(hup, syscall.SIGHUP)
			go func() {
				for {
					select {
					case <-hup:
						if err := reloadLogLevel(cfg); err != nil {
							_ = log.Warnf("keeping the current log level: %s", err)
						}
					case <-done:
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			signal.Stop(hup)
			close(done)
			return nil
		},
	})
}

// reloadLogLevel re-reads the configuration file. Flags given on the command line
// still take precedence.
func reloadLogLevel(cfg *config.Config) error {
	if err := cfg.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reloading configuration: %w", err)
	}
	return config.ChangeLogLevel(cfg.GetString(config.LogLevel), cfg.GetString(config.LogFile))
}

// services runs the background loops. The first one to fail shuts the app down.
type services struct {
	err error
}

func newServices(lc fx.Lifecycle, shutdowner fx.Shutdowner, s config.Settings, ctrl *controller.Controller, reader *tracepipe.Reader, tel *telemetry.Telemetry) *services {
	svc := &services{}
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			g.Go(func() error {
				return ctrl.Watch(gctx, s.PolicyFile, s.ResyncInterval)
			})
			g.Go(func() error {
				return reader.Run(gctx)
			})
			if s.TelemetryEnabled {
				g.Go(func() error {
					return tel.Serve(gctx, s.TelemetryAddress)
				})
			}
			go func() {
				<-gctx.Done()
				if ctx.Err() == nil {
					// a loop failed on its own
					if err := shutdowner.Shutdown(); err != nil {
						_ = log.Errorf("shutting down: %s", err)
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			svc.err = g.Wait()
			stats := reader.Stats()
			log.Infof("stopped: %d protected writes, %d lost trace events, %d unparsable lines",
				stats.Events, stats.LostEvents, stats.ParseErrors)
			return nil
		},
	})
	return svc
}
