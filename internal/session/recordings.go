package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RecordingInfo describes a recording file in the session's video directory.
type RecordingInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	// Intermediate marks an encoder output left behind by a failed mux
	Intermediate bool `json:"intermediate,omitempty"`
}

// RecordingAnalysis holds the streams ffprobe reports for a recording.
type RecordingAnalysis struct {
	Filename    string       `json:"filename"`
	Duration    float64      `json:"duration_seconds"`
	StreamCount int          `json:"stream_count"`
	Streams     []StreamInfo `json:"streams"`
}

// StreamInfo describes one stream of a recording.
type StreamInfo struct {
	Index      int    `json:"index"`
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	SampleRate string `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// ListRecordings returns the .mp4 files of this session, newest first. The
// file of a recording in progress is left out.
func (s *Session) ListRecordings() ([]RecordingInfo, error) {
	files, err := os.ReadDir(s.videoDir)
	if os.IsNotExist(err) {
		return []RecordingInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read video directory: %w", err)
	}

	active := s.pipeline.Status().Basename

	recordings := []RecordingInfo{}
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		name := file.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".mp4" {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if active != "" && stem == active {
			continue
		}

		info, err := file.Info()
		if err != nil {
			slog.Warn("Failed to get file info for recording", "file", name, "error", err)
			continue
		}

		_, statErr := os.Stat(filepath.Join(s.videoDir, stem+".aac"))

		recordings = append(recordings, RecordingInfo{
			Name:         name,
			Path:         filepath.Join(s.videoDir, name),
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			Intermediate: statErr == nil,
		})
	}

	sort.Slice(recordings, func(i, j int) bool {
		if recordings[i].ModTime.Equal(recordings[j].ModTime) {
			return recordings[i].Name > recordings[j].Name
		}
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})

	return recordings, nil
}

// AnalyzeRecording extracts stream information from a recording using ffprobe.
func (s *Session) AnalyzeRecording(name string) (*RecordingAnalysis, error) {
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid recording name: %q", name)
	}

	filePath := filepath.Join(s.videoDir, name)
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("recording not found: %s", name)
	}

	ffprobe := s.cfg.Recording.FFprobe
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	cmd := exec.Command(ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		filePath,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", name, err)
	}

	var probeResult struct {
		Streams []struct {
			Index      int    `json:"index"`
			CodecType  string `json:"codec_type"`
			CodecName  string `json:"codec_name"`
			Width      int    `json:"width"`
			Height     int    `json:"height"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probeResult); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output for %s: %w", name, err)
	}

	analysis := &RecordingAnalysis{Filename: name}
	if d, err := strconv.ParseFloat(probeResult.Format.Duration, 64); err == nil {
		analysis.Duration = d
	}
	for _, st := range probeResult.Streams {
		analysis.Streams = append(analysis.Streams, StreamInfo{
			Index:      st.Index,
			CodecType:  st.CodecType,
			CodecName:  st.CodecName,
			Width:      st.Width,
			Height:     st.Height,
			SampleRate: st.SampleRate,
			Channels:   st.Channels,
		})
	}
	analysis.StreamCount = len(analysis.Streams)

	slog.Debug("Recording analysis completed", "filename", name, "streams", analysis.StreamCount)
	return analysis, nil
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
