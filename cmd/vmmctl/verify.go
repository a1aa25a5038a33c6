package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pipeops/vmmcore/installation"
	"github.com/spf13/cobra"
)

func newVerifyCommand() *cobra.Command {
	var (
		firecrackerBin   string
		jailerBin        string
		snapshotEditor   string
		expectedVersion  string
		timeout          time.Duration
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a Firecracker release's binaries are present and runnable",
		RunE: func(cmd *cobra.Command, args []string) error {
			inst := installation.Installation{
				FirecrackerPath:    firecrackerBin,
				JailerPath:         jailerBin,
				SnapshotEditorPath: snapshotEditor,
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := inst.Verify(ctx, expectedVersion); err != nil {
				return fmt.Errorf("verify: %w", err)
			}

			if jsonOutput {
				fmt.Fprintf(cmd.OutOrStdout(), "{\"ok\":true,\"firecracker\":%q,\"jailer\":%q,\"snapshot_editor\":%q}\n",
					inst.FirecrackerPath, inst.JailerPath, inst.SnapshotEditorPath)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "installation ok")
			return nil
		},
	}

	cmd.Flags().StringVar(&firecrackerBin, "firecracker-binary", "/usr/bin/firecracker", "path to the firecracker binary")
	cmd.Flags().StringVar(&jailerBin, "jailer-binary", "/usr/bin/jailer", "path to the jailer binary")
	cmd.Flags().StringVar(&snapshotEditor, "snapshot-editor-binary", "", "path to the snapshot-editor binary")
	cmd.Flags().StringVar(&expectedVersion, "expected-version", "", "expected --version output (optional)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "verification timeout")

	return cmd
}
