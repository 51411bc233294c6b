package sound

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/faiface/beep"
)

func drain(t *testing.T, s beep.Streamer) [][2]float64 {
	t.Helper()
	var out [][2]float64
	buf := make([][2]float64, 512)
	for i := 0; i < 10000; i++ {
		n, ok := s.Stream(buf)
		out = append(out, buf[:n]...)
		if !ok {
			return out
		}
	}
	t.Fatal("streamer never finished")
	return nil
}

func TestToneLength(t *testing.T) {
	sr := beep.SampleRate(8000)
	samples := drain(t, Tone(sr, 440, 100*time.Millisecond))
	if len(samples) != sr.N(100*time.Millisecond) {
		t.Fatalf("expected %d samples, got %d", sr.N(100*time.Millisecond), len(samples))
	}
	var peak float64
	for _, s := range samples {
		if s[0] != s[1] {
			t.Fatal("channels differ")
		}
		peak = math.Max(peak, math.Abs(s[0]))
	}
	if peak == 0 || peak > 0.3+1e-9 {
		t.Fatalf("unexpected peak %v", peak)
	}
}

func TestChimeLength(t *testing.T) {
	sr := beep.SampleRate(8000)
	note := sr.N(120*time.Millisecond) + sr.N(30*time.Millisecond)
	if got := len(drain(t, Chime(sr, 660, 880))); got != 2*note {
		t.Fatalf("expected %d samples, got %d", 2*note, got)
	}
}

func TestNewWithoutFile(t *testing.T) {
	p, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	if p.clip != nil {
		t.Fatal("unexpected clip")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cue.ogg")
	if err := os.WriteFile(path, []byte("OggS"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestNewMissingFile(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing.wav")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not exist, got %v", err)
	}
}

func TestNewRejectsCorruptWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cue.wav")
	if err := os.WriteFile(path, []byte("definitely not RIFF"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); err == nil {
		t.Fatal("expected decode error")
	}
}

var _ Notifier = Nop{}
var _ Notifier = (*Player)(nil)
