package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/avatarhost/internal/asr"
	"github.com/audiolibrelab/avatarhost/internal/audio"
	"github.com/audiolibrelab/avatarhost/internal/config"
)

var feedCmd = &cobra.Command{
	Use:   "feed [audio-file]",
	Short: "Normalize an audio file and report the frames it yields",
	Long: `Decode an audio file the same way /humanaudio does (first channel,
resampled to 16 kHz, cut into session frames) and print how many frames
would be queued for speech.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		frameSize := cfg.FrameSize()
		decoder := audio.NewAutoDecoder(cfg.Recording.FFmpeg, cfg.Recording.FFprobe)
		resampler := &audio.FFmpegResampler{FFmpeg: cfg.Recording.FFmpeg, Filter: cfg.Audio.ResampleFilter}
		normalizer := audio.NewNormalizer(decoder, resampler, config.CanonicalSampleRate, frameSize)

		stream, err := normalizer.Normalize(data)
		if err != nil {
			return err
		}
		frames := normalizer.Frames(stream)

		// large files would block on a bounded queue with no reader
		queue := asr.NewQueue(len(frames)+1, frameSize)
		for _, f := range frames {
			queue.PutAudioFrame(f)
		}

		fmt.Printf("file: %s\n", args[0])
		fmt.Printf("samples: %d (%.2fs at %d Hz)\n", len(stream), float64(len(stream))/config.CanonicalSampleRate, config.CanonicalSampleRate)
		fmt.Printf("frame_size: %d\n", frameSize)
		fmt.Printf("frames: %d\n", queue.Pending())
		fmt.Printf("dropped_samples: %d\n", len(stream)-len(frames)*frameSize)
		return nil
	},
}
