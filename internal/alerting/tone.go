package alerting

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"time"

	"github.com/gmsas95/careminder/internal/errors"
)

const defaultSampleRate = 22050

// SynthesizeTone renders a sine tone as 16-bit mono PCM WAV. A short linear
// fade at both ends avoids clicks.
func SynthesizeTone(hz float64, d time.Duration, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	n := int(math.Round(float64(sampleRate) * d.Seconds()))
	fade := sampleRate / 100

	pcm := make([]int16, n)
	for i := range pcm {
		amp := 0.6
		if i < fade {
			amp *= float64(i) / float64(fade)
		} else if n-i < fade {
			amp *= float64(n-i) / float64(fade)
		}
		v := amp * math.Sin(2*math.Pi*hz*float64(i)/float64(sampleRate))
		pcm[i] = int16(v * math.MaxInt16)
	}

	var buf bytes.Buffer
	dataSize := uint32(n * 2)
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	binary.Write(&buf, binary.LittleEndian, pcm)
	return buf.Bytes()
}

// Player plays a WAV stream
type Player interface {
	Play(ctx context.Context, wav io.Reader) error
}

// CommandPlayer pipes WAV data to an external player such as aplay
type CommandPlayer struct {
	Command string
	Args    []string
}

func (p CommandPlayer) Play(ctx context.Context, wav io.Reader) error {
	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	cmd.Stdin = wav
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", p.Command, err, bytes.TrimSpace(out))
	}
	return nil
}

// Tone is the audio channel
type Tone struct {
	player     Player
	sampleRate int
	available  bool
}

// NewTone creates an audio channel that plays through command. The channel
// is unavailable when command is not on PATH.
func NewTone(command string, sampleRate int) *Tone {
	if command == "" {
		command = "aplay"
	}
	_, err := exec.LookPath(command)
	return &Tone{
		player:     CommandPlayer{Command: command, Args: []string{"-q", "-"}},
		sampleRate: sampleRate,
		available:  err == nil,
	}
}

// NewToneWithPlayer creates an audio channel over an arbitrary player
func NewToneWithPlayer(p Player, sampleRate int) *Tone {
	return &Tone{player: p, sampleRate: sampleRate, available: p != nil}
}

func (t *Tone) Name() string      { return "tone" }
func (t *Tone) Kind() ChannelKind { return KindAudio }
func (t *Tone) Available() bool   { return t.available }

func (t *Tone) Deliver(ctx context.Context, d Delivery) error {
	if !t.available {
		return errors.ErrChannelUnavailable
	}
	wav := SynthesizeTone(d.Params.ToneHz, d.Params.ToneDuration, t.sampleRate)
	return t.player.Play(ctx, bytes.NewReader(wav))
}
