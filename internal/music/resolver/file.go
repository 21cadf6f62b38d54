package resolver

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"jamroom/internal/music/track"
)

// FromAttachment downloads an uploaded audio file and probes its duration.
func (r *TrackResolver) FromAttachment(ctx context.Context, fileURL, filename string) (*track.Track, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment download failed with status %d", resp.StatusCode)
	}

	path := filepath.Join(r.cacheDir, fmt.Sprintf("file-%s-%s", uuid.NewString(), filepath.Base(filename)))
	if err := writeStream(path, resp.Body); err != nil {
		return nil, err
	}

	duration, err := probeDuration(ctx, path)
	if err != nil {
		// Playable without a known duration; length limits just won't apply.
		duration = 0
	}

	return &track.Track{
		ID:       uuid.NewString(),
		Title:    filename,
		Duration: duration,
		FilePath: path,
	}, nil
}

// probeDuration asks ffprobe for the container duration in seconds.
func probeDuration(ctx context.Context, path string) (float64, error) {
	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe error: %w", err)
	}

	return strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
}
