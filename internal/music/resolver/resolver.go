// Package resolver turns a free-text query or an uploaded file into a
// locally playable track. Resolution is network-bound and slow; callers run
// it outside any scheduler loop.
package resolver

import (
	"errors"
	"net/http"
	"net/url"
	"os"
	"time"

	youtube "github.com/kkdai/youtube/v2"
)

var (
	ErrNoMatch     = errors.New("could not find a video for the query")
	ErrNoAudio     = errors.New("no audio formats available for the video")
	ErrUnsupported = errors.New("unsupported input")
)

// TrackResolver downloads audio into cacheDir. Each resolved track owns its
// file; the file is deleted when the track is released after playback.
type TrackResolver struct {
	yt       *youtube.Client
	http     *http.Client
	cacheDir string
}

func New(cacheDir string) (*TrackResolver, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, err
	}
	return &TrackResolver{
		yt:       &youtube.Client{HTTPClient: &http.Client{Timeout: 15 * time.Second}},
		http:     &http.Client{Timeout: 10 * time.Second},
		cacheDir: cacheDir,
	}, nil
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
