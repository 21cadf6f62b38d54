package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"jamroom/internal/music/track"
)

var watchURLPattern = regexp.MustCompile(`"url":"/watch\?v=([a-zA-Z0-9_-]{11})`)

// FromQuery resolves a YouTube URL or search query, downloads the audio
// stream to the cache directory and returns the track. The returned track's
// requester and channel fields are filled in by the caller.
func (r *TrackResolver) FromQuery(ctx context.Context, query string) (*track.Track, error) {
	query = strings.TrimSpace(query)

	videoID, err := r.videoIDFor(ctx, query)
	if err != nil {
		return nil, err
	}

	video, err := r.yt.GetVideoContext(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("youtube lookup failed: %w", err)
	}

	formats := video.Formats.WithAudioChannels()
	if len(formats) == 0 {
		return nil, ErrNoAudio
	}

	stream, _, err := r.yt.GetStreamContext(ctx, video, &formats[0])
	if err != nil {
		return nil, fmt.Errorf("youtube stream error: %w", err)
	}
	defer stream.Close()

	path := filepath.Join(r.cacheDir, fmt.Sprintf("yt-%s-%s.audio", video.ID, uuid.NewString()))
	if err := writeStream(path, stream); err != nil {
		return nil, err
	}

	log.Debug().Str("video", video.ID).Str("file", path).Msg("downloaded youtube audio")

	return &track.Track{
		ID:       uuid.NewString(),
		Title:    video.Title,
		Duration: video.Duration.Seconds(),
		FilePath: path,
	}, nil
}

// videoIDFor extracts the ID from a watch URL or scrapes the first search
// result for a plain-text query.
func (r *TrackResolver) videoIDFor(ctx context.Context, query string) (string, error) {
	if isURL(query) {
		id, err := extractVideoID(query)
		if err != nil {
			return "", err
		}
		return id, nil
	}
	return r.searchFirstVideoID(ctx, query)
}

func extractVideoID(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	host := strings.TrimPrefix(u.Host, "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if id := u.Query().Get("v"); id != "" {
			return id, nil
		}
		if strings.HasPrefix(u.Path, "/shorts/") {
			return strings.TrimPrefix(u.Path, "/shorts/"), nil
		}
	case "youtu.be":
		if id := strings.Trim(u.Path, "/"); id != "" {
			return id, nil
		}
	}
	return "", ErrUnsupported
}

func (r *TrackResolver) searchFirstVideoID(ctx context.Context, query string) (string, error) {
	searchURL := fmt.Sprintf("https://www.youtube.com/results?search_query=%s", url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("youtube search failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	matches := watchURLPattern.FindStringSubmatch(string(body))
	if len(matches) < 2 {
		return "", ErrNoMatch
	}
	return matches[1], nil
}

func writeStream(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to download audio: %w", err)
	}
	return f.Close()
}
