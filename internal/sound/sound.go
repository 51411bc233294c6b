// Package sound plays short cues when it becomes the player's turn and when
// a game ends.
package sound

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

// SampleRate is the rate the speaker runs at. Files are resampled to it.
const SampleRate = beep.SampleRate(44100)

// ErrUnsupported is returned for sound files that are neither wav nor mp3.
var ErrUnsupported = errors.New("sound: unsupported format")

// Notifier reacts to game events with sound.
type Notifier interface {
	YourTurn()
	GameOver()
}

// Nop is a Notifier that stays silent.
type Nop struct{}

func (Nop) YourTurn() {}
func (Nop) GameOver() {}

// Player plays cues on the default audio device. The device is opened on
// first use; if that fails the player goes quiet.
type Player struct {
	clip *beep.Buffer

	initOnce sync.Once
	initErr  error
}

// New returns a player. If file is set, that wav or mp3 is played for the
// turn cue instead of the built-in chime.
func New(file string) (*Player, error) {
	p := &Player{}
	if file == "" {
		return p, nil
	}
	clip, err := load(file)
	if err != nil {
		return nil, err
	}
	p.clip = clip
	return p, nil
}

// YourTurn plays the turn cue.
func (p *Player) YourTurn() {
	if p.clip != nil {
		p.play(p.clip.Streamer(0, p.clip.Len()))
		return
	}
	p.play(Chime(SampleRate, 660, 880))
}

// GameOver plays the end-of-game cue.
func (p *Player) GameOver() {
	p.play(Chime(SampleRate, 880, 660, 440))
}

func (p *Player) play(s beep.Streamer) {
	p.initOnce.Do(func() {
		p.initErr = speaker.Init(SampleRate, SampleRate.N(time.Second/10))
		if p.initErr != nil {
			log.Printf("sound: failed to initialise speaker: %v", p.initErr)
		}
	})
	if p.initErr != nil {
		return
	}
	speaker.Play(s)
}

// Chime is a sequence of short sine notes with a gap after each.
func Chime(sr beep.SampleRate, freqs ...float64) beep.Streamer {
	var notes []beep.Streamer
	for _, f := range freqs {
		notes = append(notes, Tone(sr, f, 120*time.Millisecond), beep.Silence(sr.N(30*time.Millisecond)))
	}
	return beep.Seq(notes...)
}

// Tone is a sine wave of freq hertz lasting d.
func Tone(sr beep.SampleRate, freq float64, d time.Duration) beep.Streamer {
	step := 2 * math.Pi * freq / float64(sr)
	var t int
	wave := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			v := 0.3 * math.Sin(step*float64(t))
			samples[i][0], samples[i][1] = v, v
			t++
		}
		return len(samples), true
	})
	return beep.Take(sr.N(d), wave)
}

func load(file string) (*beep.Buffer, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("sound: %w", err)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(file)) {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, file)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sound: decode %s: %w", file, err)
	}
	defer streamer.Close()

	buf := beep.NewBuffer(beep.Format{SampleRate: SampleRate, NumChannels: 2, Precision: 2})
	buf.Append(beep.Resample(4, format.SampleRate, SampleRate, streamer))
	return buf, nil
}
