// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

// Package loadgen implements 'write-probe loadgen', a log writing workload used to
// measure the probe overhead.
package loadgen

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/DataDog/vfs-write-probe/cmd/write-probe/command"
	"github.com/DataDog/vfs-write-probe/pkg/util/log"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe/controller"
)

const timeFormat = "2006-01-02 15:04:05,000"

var (
	cards = []string{"4111111111111111", "5555555555554444", "378282246310005"}
	ssns  = []string{"123-45-6789", "987-65-4321"}
)

type cliParams struct {
	*command.GlobalParams

	file     string
	rate     float64
	count    int
	quiet    bool
	simulate bool
}

// Commands returns the loadgen command
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	params := &cliParams{GlobalParams: globalParams}

	loadgenCmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Append synthetic purchase records to a log file",
		Long: `Append synthetic purchase records to a log file until interrupted. Protect the
file to measure the cost of reported writes against an unprotected run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, _, err := params.Setup("warn"); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return loadgen(ctx, params, cmd.OutOrStdout())
		},
	}
	loadgenCmd.Flags().StringVarP(&params.file, "file", "f", "/var/log/demo.log", "log file to append to")
	loadgenCmd.Flags().Float64VarP(&params.rate, "rate", "r", 5, "records per second, 0 for no limit")
	loadgenCmd.Flags().IntVar(&params.count, "count", 0, "stop after this many records, 0 to run until interrupted")
	loadgenCmd.Flags().BoolVarP(&params.quiet, "quiet", "q", false, "do not echo records to stdout")
	loadgenCmd.Flags().BoolVar(&params.simulate, "simulate", false, "run every write through an in-process probe protecting the file")

	return []*cobra.Command{loadgenCmd}
}

// generator writes one record per write call so that each record is one vfs_write
type generator struct {
	out   *os.File
	echo  io.Writer
	rand  *rand.Rand
	probe *writeprobe.Probe
	file  *writeprobe.File
}

func loadgen(ctx context.Context, params *cliParams, stdout io.Writer) error {
	f, err := os.OpenFile(params.file, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	g := &generator{
		out:  f,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if !params.quiet {
		g.echo = stdout
	}
	var sink *writeprobe.CountingSink
	if params.simulate {
		if sink, err = g.simulate(params.file); err != nil {
			return err
		}
	}

	limit := rate.Inf
	if params.rate > 0 {
		limit = rate.Limit(params.rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	start := time.Now()
	written := 0
	for params.count == 0 || written < params.count {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		if err := g.write(time.Now()); err != nil {
			return err
		}
		written++
	}

	elapsed := time.Since(start)
	log.Infof("wrote %d records to %s in %s", written, params.file, elapsed)
	if sink != nil {
		stats := g.probe.Stats()
		fmt.Fprintf(stdout, "simulated probe: %d writes, %d reported, %d identity failures, %d recovered\n",
			stats.Writes, sink.Protected(), stats.IdentityFailures, stats.Recovered)
	}
	return nil
}

// simulate protects the output file in an in-process registry
func (g *generator) simulate(path string) (*writeprobe.CountingSink, error) {
	reg := writeprobe.NewMemoryRegistry(0)
	if _, err := controller.New(reg).Protect(path); err != nil {
		return nil, err
	}
	id, err := controller.IdentityFromPath(path)
	if err != nil {
		return nil, err
	}

	sink := &writeprobe.CountingSink{}
	g.probe = writeprobe.NewProbe(reg, sink)
	g.file = &writeprobe.File{Inode: &writeprobe.Inode{Ino: id.Inode, SB: &writeprobe.SuperBlock{Dev: id.Device}}}
	return sink, nil
}

func (g *generator) record(now time.Time) string {
	return fmt.Sprintf("%s | INFO | Purchase card=%s ssn=%s total=$%d\n",
		now.Format(timeFormat),
		cards[g.rand.Intn(len(cards))],
		ssns[g.rand.Intn(len(ssns))],
		10+g.rand.Intn(491),
	)
}

func (g *generator) write(now time.Time) error {
	line := g.record(now)
	if g.probe != nil {
		g.probe.OnWrite(g.file)
	}
	if _, err := g.out.WriteString(line); err != nil {
		return err
	}
	if g.echo != nil {
		_, err := io.WriteString(g.echo, line)
		return err
	}
	return nil
}
