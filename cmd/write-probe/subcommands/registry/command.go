// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

// Package registry implements 'write-probe protect', 'unprotect' and 'list'.
package registry

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/DataDog/vfs-write-probe/cmd/write-probe/command"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe/controller"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe/kernel"
)

// Commands returns the registry administration commands. They act on the registry
// pinned by a running 'write-probe run'.
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	protectCmd := &cobra.Command{
		Use:   "protect <path>...",
		Short: "Report writes to the given files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(globalParams, func(reg writeprobe.Registry) error {
				return protect(cmd.OutOrStdout(), controller.New(reg), args)
			})
		},
	}

	unprotectCmd := &cobra.Command{
		Use:   "unprotect <path>...",
		Short: "Stop reporting writes to the given files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(globalParams, func(reg writeprobe.Registry) error {
				return unprotect(cmd.OutOrStdout(), controller.New(reg), args)
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the keys in the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegistry(globalParams, func(reg writeprobe.Registry) error {
				return list(cmd.OutOrStdout(), reg)
			})
		},
	}

	return []*cobra.Command{protectCmd, unprotectCmd, listCmd}
}

func withRegistry(globalParams *command.GlobalParams, fn func(writeprobe.Registry) error) error {
	_, settings, err := globalParams.Setup("off")
	if err != nil {
		return err
	}
	reg, err := kernel.OpenPinnedRegistry(settings.PinDir)
	if err != nil {
		return fmt.Errorf("is write-probe running? %w", err)
	}
	defer reg.Close()
	return fn(reg)
}

func protect(w io.Writer, c *controller.Controller, paths []string) error {
	var errs *multierror.Error
	for _, p := range paths {
		key, err := c.Protect(p)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		fmt.Fprintf(w, "protected %s %s\n", color.CyanString(p), key)
	}
	return errs.ErrorOrNil()
}

func unprotect(w io.Writer, c *controller.Controller, paths []string) error {
	var errs *multierror.Error
	for _, p := range paths {
		if err := c.Unprotect(p); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		fmt.Fprintf(w, "unprotected %s\n", color.CyanString(p))
	}
	return errs.ErrorOrNil()
}

func list(w io.Writer, reg writeprobe.Registry) error {
	keys, err := reg.Keys()
	if err != nil {
		return err
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		fmt.Fprintln(w, k)
	}
	return nil
}
