package main

import (
	"github.com/spf13/cobra"

	"github.com/cartridge/emulator/internal/supervisor"
)

func newRenderCmd(c *cli) *cobra.Command {
	var req supervisor.RenderRequest
	cmd := &cobra.Command{
		Use:   "render INPUT",
		Short: "Play back a recorded input file and write it out as video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.InputFile = args[0]
			if req.InputDir == "" {
				req.InputDir = c.cfg.Supervisor.InputDir
			}
			if req.SnapshotDir == "" {
				req.SnapshotDir = c.cfg.Supervisor.SnapshotDir
			}
			sup := supervisor.New(c.cfg.Supervisor, c.logger)
			defer sup.Close()
			return sup.Render(cmd.Context(), req)
		},
	}
	cmd.Flags().StringVar(&req.AVIFile, "avi", "recording.avi", "Output video file")
	cmd.Flags().StringVar(&req.InputDir, "input-dir", "", "Directory holding INPUT (defaults to the configured input directory)")
	cmd.Flags().StringVar(&req.SnapshotDir, "snapshot-dir", "", "Directory receiving the video (defaults to the configured snapshot directory)")
	return cmd
}
