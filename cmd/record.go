package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/avatarhost/internal/session"
)

var recordCmd = &cobra.Command{
	Use:   "record [audio-file...]",
	Short: "Record the session output until interrupted",
	Long: `Run the session and record the rendered video and audio to mp4. Audio
files given as arguments are spoken in order. Press Ctrl+C to stop; the
recording is then muxed, published and reported to the backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, _ := cmd.Flags().GetInt("state")

		sess, err := session.New(cmd.Context(), cfg, ffmpegLogWriter())
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		defer sess.Close()

		files := make([][]byte, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			files = append(files, data)
		}

		if state != 0 {
			if err := sess.SetCustomState(state, true); err != nil {
				return err
			}
		}

		if err := sess.StartRecording(); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("Recording - Press Ctrl+C to stop", "video_dir", sess.VideoDir())
		start := time.Now()

		// the speech queue is bounded, so files are fed while playback drains it
		go func() {
			for i, data := range files {
				frames, err := sess.PutAudioFile(data)
				if err != nil {
					slog.Error("Failed to queue audio file", "file", args[i], "error", err)
					continue
				}
				slog.Info("Queued audio file", "file", args[i], "frames", frames)
			}
		}()

		// Run stops and finalizes the recording once ctx is cancelled
		if err := sess.Run(ctx); err != nil {
			return fmt.Errorf("recording failed: %w", err)
		}

		status := sess.RecordingStatus()
		fmt.Printf("Recording saved: %s (%s)\n", status.LastOutput, time.Since(start).Round(time.Second))
		return nil
	},
}

func init() {
	recordCmd.Flags().Int("state", 0, "custom state to play while recording (0 = idle)")
}
