package discord

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"layeh.com/gopus"

	"jamroom/internal/music/session"
	"jamroom/internal/music/track"
)

const (
	channels   = 2
	sampleRate = 48000
	frameSize  = 960 // 20ms at 48kHz
)

// voiceSink renders a local audio file into a guild's voice connection:
// ffmpeg decodes to raw PCM, samples are scaled by the live volume and
// opus-encoded onto the connection.
type voiceSink struct {
	mgr *voiceManager
}

func (s *voiceSink) Play(t *track.Track, volume float64) (session.Handle, error) {
	vc, err := s.mgr.connect()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command("ffmpeg",
		"-i", t.FilePath,
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", fmt.Sprintf("%d", channels),
		"-loglevel", "warning",
		"pipe:1",
	)

	reader, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("command start error: %w", err)
	}

	h := &playbackHandle{
		done: make(chan error, 1),
		stop: make(chan struct{}),
	}
	h.volume.Store(math.Float64bits(volume))

	go h.stream(reader, cmd, vc)
	return h, nil
}

type playbackHandle struct {
	done     chan error
	stop     chan struct{}
	stopOnce sync.Once
	volume   atomic.Uint64 // float64 bits
}

func (h *playbackHandle) Done() <-chan error { return h.done }

func (h *playbackHandle) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *playbackHandle) SetVolume(v float64) error {
	h.volume.Store(math.Float64bits(v))
	return nil
}

func (h *playbackHandle) stream(reader io.ReadCloser, cmd *exec.Cmd, vc *discordgo.VoiceConnection) {
	defer func() {
		reader.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	encoder, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		h.done <- fmt.Errorf("encoder error: %w", err)
		return
	}

	if err := vc.Speaking(true); err != nil {
		log.Warn().Err(err).Msg("failed to set speaking state")
	}
	defer func() { _ = vc.Speaking(false) }()

	pcmBuf := make([]byte, frameSize*channels*2)
	intBuf := make([]int16, frameSize*channels)

	for {
		select {
		case <-h.stop:
			return
		default:
		}

		if _, err := io.ReadFull(reader, pcmBuf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				h.done <- nil
			} else {
				h.done <- fmt.Errorf("read error: %w", err)
			}
			return
		}

		vol := math.Float64frombits(h.volume.Load())
		for i := range intBuf {
			sample := float64(int16(binary.LittleEndian.Uint16(pcmBuf[i*2:i*2+2]))) * vol
			switch {
			case sample > math.MaxInt16:
				intBuf[i] = math.MaxInt16
			case sample < math.MinInt16:
				intBuf[i] = math.MinInt16
			default:
				intBuf[i] = int16(sample)
			}
		}

		opus, err := encoder.Encode(intBuf, frameSize, len(pcmBuf))
		if err != nil {
			h.done <- fmt.Errorf("encode error: %w", err)
			return
		}

		select {
		case vc.OpusSend <- opus:
		case <-h.stop:
			return
		}
	}
}
