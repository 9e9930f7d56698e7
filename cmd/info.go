package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/avatarhost/internal/config"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the resolved session settings and paths",
	Long:  `Display the timing, paths and engines the active profile resolves to, without starting a session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("=== SESSION ===\n")
		fmt.Printf("profile: %s\n", cfg.Profile)
		fmt.Printf("username: %s\n", cfg.Session.Username)
		sessionID := cfg.Session.SessionID
		switch {
		case cfg.Backend.Token != "":
			sessionID = "(from backend " + cfg.Backend.BaseURL + ")"
		case sessionID == "":
			sessionID = "(generated)"
		}
		fmt.Printf("session_id: %s\n", sessionID)
		fmt.Printf("video_dir: %s\n", filepath.Join(cfg.Recording.VideosRoot, cfg.Session.Username, "<session_id>"))

		fmt.Printf("\n=== TIMING ===\n")
		fmt.Printf("sample_rate: %d\n", config.CanonicalSampleRate)
		fmt.Printf("audio_fps: %d\n", cfg.Session.FPS)
		fmt.Printf("frame_size: %d\n", cfg.FrameSize())
		fmt.Printf("video_fps: %d\n", cfg.Recording.VideoFPS)
		fmt.Printf("audio_frames_per_video_frame: %d\n", cfg.AudioFramesPerVideoFrame())

		fmt.Printf("\n=== ENGINES ===\n")
		fmt.Printf("tts: %s\n", orNone(cfg.TTS.Engine))
		fmt.Printf("llm: %s\n", orNone(cfg.LLM.Provider))
		fmt.Printf("storage: %s\n", orNone(cfg.Storage.Endpoint))
		fmt.Printf("events: %v\n", cfg.Events.Brokers)
		fmt.Printf("slots: %d\n", len(cfg.Slots))
		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
