// Package track defines the playable item handed from resolution to playback.
package track

import (
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// Track is a resolved, locally playable audio resource plus display metadata.
// Fields are set once by a resolver and never mutated afterwards.
type Track struct {
	ID            string
	Title         string
	Duration      float64 // seconds
	RequesterID   string
	RequesterName string
	FilePath      string // local audio file backing this track
	ChannelID     string // channel the request came from; announcements go here

	releaseOnce sync.Once
}

// Release deletes the backing local file. Safe to call more than once;
// only the first call has any effect.
func (t *Track) Release() {
	t.releaseOnce.Do(func() {
		if t.FilePath == "" {
			return
		}
		if err := os.Remove(t.FilePath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", t.FilePath).Msg("failed to remove track file")
		}
	})
}
