package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// RenderRequest plays a recorded input file back into a video.
type RenderRequest struct {
	InputFile   string
	AVIFile     string
	InputDir    string
	SnapshotDir string
}

// RenderArgs returns the playback arguments for req.
func (c Config) RenderArgs(req RenderRequest) []string {
	args := c.BaseArgs()
	args = append(args, "-plugin", c.PluginName)
	if req.InputDir != "" {
		args = append(args, "-input_directory", req.InputDir)
	}
	args = append(args, "-playback", req.InputFile, "-exit_after_playback")
	if req.SnapshotDir != "" {
		args = append(args, "-snapshot_directory", req.SnapshotDir)
	}
	return append(args, "-aviwrite", req.AVIFile)
}

// Render runs the emulator in playback mode and waits for it to exit. It
// does not touch the listener or the current session.
func (s *Supervisor) Render(ctx context.Context, req RenderRequest) error {
	if req.InputFile == "" || req.AVIFile == "" {
		return errors.New("render: input and avi files are required")
	}
	if err := WritePlugin(s.cfg.PluginDir(), s.cfg.pluginSettings(ModeRecord, s.cfg.Port)); err != nil {
		return err
	}

	args := s.cfg.RenderArgs(req)
	cmd := exec.CommandContext(ctx, s.cfg.Binary, args...)
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Stdout = s.logger.With().Str("stream", "stdout").Logger()
	cmd.Stderr = s.logger.With().Str("stream", "stderr").Logger()

	s.logger.Info().
		Str("input", filepath.Base(req.InputFile)).
		Str("avi", req.AVIFile).
		Msg("rendering recording")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("render %s: %w", req.InputFile, err)
	}
	return nil
}
