// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

// Package key implements 'write-probe key'.
package key

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/DataDog/vfs-write-probe/cmd/write-probe/command"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe/controller"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe/kernel"
)

type cliParams struct {
	*command.GlobalParams

	pinned bool
}

// Commands returns the key command
func Commands(globalParams *command.GlobalParams) []*cobra.Command {
	params := &cliParams{GlobalParams: globalParams}

	keyCmd := &cobra.Command{
		Use:   "key <path>...",
		Short: "Print the identity and registry key of files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reg writeprobe.Reader
			if params.pinned {
				_, settings, err := params.Setup("off")
				if err != nil {
					return err
				}
				pinned, err := kernel.OpenPinnedRegistry(settings.PinDir)
				if err != nil {
					return err
				}
				defer pinned.Close()
				reg = pinned
			}
			return printKeys(cmd.OutOrStdout(), controller.IdentityFromPath, reg, args)
		},
	}
	keyCmd.Flags().BoolVar(&params.pinned, "pinned", false, "also report whether the key is in the pinned registry")

	return []*cobra.Command{keyCmd}
}

func printKeys(w io.Writer, resolve func(string) (writeprobe.FileIdentity, error), reg writeprobe.Reader, paths []string) error {
	var errs *multierror.Error
	for _, p := range paths {
		id, err := resolve(p)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		key := writeprobe.DeriveKey(id)
		line := fmt.Sprintf("%s %s key=%s", color.CyanString(p), id, color.GreenString(key.String()))
		if reg != nil {
			if reg.Contains(key) {
				line += " " + color.YellowString("protected")
			} else {
				line += " unprotected"
			}
		}
		fmt.Fprintln(w, line)
	}
	return errs.ErrorOrNil()
}
