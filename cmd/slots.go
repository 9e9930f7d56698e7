package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/avatarhost/internal/audio"
	"github.com/audiolibrelab/avatarhost/internal/config"
	"github.com/audiolibrelab/avatarhost/internal/media"
)

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "List the configured custom slots",
	Long:  `List the custom image+audio slots of the active profile. With --load every slot is loaded to check its images and audio.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		load, _ := cmd.Flags().GetBool("load")

		fmt.Printf("Custom slots (%s):\n", cfg.Profile)
		fmt.Printf("═══════════════════════════════════════\n")
		if len(cfg.Slots) == 0 {
			fmt.Println("  none, only the idle loop is played")
			return nil
		}

		var normalizer *audio.Normalizer
		if load {
			decoder := audio.NewAutoDecoder(cfg.Recording.FFmpeg, cfg.Recording.FFprobe)
			resampler := &audio.FFmpegResampler{FFmpeg: cfg.Recording.FFmpeg, Filter: cfg.Audio.ResampleFilter}
			normalizer = audio.NewNormalizer(decoder, resampler, config.CanonicalSampleRate, cfg.FrameSize())
		}

		failed := 0
		for _, def := range cfg.Slots {
			fmt.Printf("  %d. %s\n", def.ID, def.Name)
			fmt.Printf("     images: %s\n", def.ImagePath)
			fmt.Printf("     audio:  %s\n", def.AudioPath)
			if !load {
				continue
			}

			slot, err := media.LoadSlot(def, normalizer)
			if err != nil {
				failed++
				slog.Error("Slot failed to load", "id", def.ID, "error", err)
				fmt.Printf("     status: FAILED (%v)\n", err)
				continue
			}
			w, h := slot.Images[0].Width, slot.Images[0].Height
			fmt.Printf("     status: ok, %d images %dx%d, %.2fs audio\n", len(slot.Images), w, h, float64(len(slot.Audio))/config.CanonicalSampleRate)
		}

		if failed > 0 {
			return fmt.Errorf("%d slot(s) failed to load", failed)
		}
		return nil
	},
}

func init() {
	slotsCmd.Flags().Bool("load", false, "load every slot and report its images and audio")
}
