package media

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/audiolibrelab/avatarhost/internal/config"
)

// imagePattern matches .jpg, .jpeg and .png in any case.
const imagePattern = "*.[jpJP][pnPN]*[gG]"

// StreamNormalizer turns an encoded audio file into canonical mono samples.
type StreamNormalizer interface {
	Normalize(data []byte) ([]float32, error)
}

// ImagePaths lists the images in dir ordered by the integer value of their
// base names. Names that are not integers are an error.
func ImagePaths(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, imagePattern))
	if err != nil {
		return nil, fmt.Errorf("invalid image directory %s: %w", dir, err)
	}

	type indexed struct {
		path  string
		index int
	}
	entries := make([]indexed, 0, len(paths))
	for _, p := range paths {
		base := filepath.Base(p)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		n, err := strconv.Atoi(stem)
		if err != nil {
			return nil, fmt.Errorf("image %s does not have a numeric name", p)
		}
		entries = append(entries, indexed{path: p, index: n})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].index < entries[j].index })

	sorted := make([]string, len(entries))
	for i, e := range entries {
		sorted[i] = e.path
	}
	return sorted, nil
}

// LoadImages decodes every image of dir, in numeric order, into BGR frames.
func LoadImages(dir string) ([]Frame, error) {
	paths, err := ImagePaths(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}

	frames := make([]Frame, 0, len(paths))
	for _, p := range paths {
		f, err := loadImage(p)
		if err != nil {
			return nil, err
		}
		if len(frames) > 0 && (f.Width != frames[0].Width || f.Height != frames[0].Height) {
			return nil, fmt.Errorf("image %s is %dx%d, expected %dx%d", p, f.Width, f.Height, frames[0].Width, frames[0].Height)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func loadImage(path string) (Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return FrameFromImage(img), nil
}

// LoadSlot loads the images and audio of one slot definition.
func LoadSlot(def config.SlotDefinition, normalizer StreamNormalizer) (*Slot, error) {
	images, err := LoadImages(def.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("slot %d: %w", def.ID, err)
	}

	data, err := os.ReadFile(def.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("slot %d: failed to read audio: %w", def.ID, err)
	}
	samples, err := normalizer.Normalize(data)
	if err != nil {
		return nil, fmt.Errorf("slot %d: %w", def.ID, err)
	}

	slog.Info("Loaded custom slot", "id", def.ID, "name", def.Name, "images", len(images), "audio_samples", len(samples))

	return &Slot{
		ID:      def.ID,
		Name:    def.Name,
		Images:  images,
		Audio:   samples,
		Options: def.Options,
	}, nil
}

// LoadSlots loads every definition. The first failure aborts loading.
func LoadSlots(defs []config.SlotDefinition, normalizer StreamNormalizer) ([]*Slot, error) {
	slots := make([]*Slot, 0, len(defs))
	for _, def := range defs {
		slot, err := LoadSlot(def, normalizer)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// LoadIdleLoop loads the idle image loop, or a single black frame of the
// configured size when no image directory is set.
func LoadIdleLoop(cfg config.IdleConfig) (*ImageLoop, error) {
	if cfg.ImagePath == "" {
		return NewImageLoop([]Frame{NewFrame(cfg.Width, cfg.Height)}), nil
	}
	frames, err := LoadImages(cfg.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("idle loop: %w", err)
	}
	return NewImageLoop(frames), nil
}
