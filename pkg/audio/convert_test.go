package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/genie/pkg/audio"
)

func TestBytesRoundTrip(t *testing.T) {
	t.Parallel()

	in := []int16{0, 1, -1, math.MaxInt16, math.MinInt16}
	got := audio.BytesToSamples(audio.SamplesToBytes(in))
	if len(got) != len(in) {
		t.Fatalf("len = %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], in[i])
		}
	}
}

func TestDownmixStereo(t *testing.T) {
	t.Parallel()

	got := audio.DownmixStereo([]int16{100, 200, -100, -200, math.MaxInt16, math.MaxInt16})
	want := []int16{150, -150, math.MaxInt16}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestApplyGain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pct  int
		in   int16
		want int16
	}{
		{"unity", 100, 1000, 1000},
		{"half", 50, 1000, 500},
		{"mute", 0, 1000, 0},
		{"above unity is clamped to unity", 150, 1000, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := []int16{tt.in}
			audio.ApplyGain(s, tt.pct)
			if s[0] != tt.want {
				t.Fatalf("ApplyGain(%d, %d) = %d, want %d", tt.in, tt.pct, s[0], tt.want)
			}
		})
	}
}

func TestFloatToSample(t *testing.T) {
	t.Parallel()

	if got := audio.FloatToSample(2); got != math.MaxInt16 {
		t.Errorf("FloatToSample(2) = %d, want %d", got, math.MaxInt16)
	}
	if got := audio.FloatToSample(-2); got != math.MinInt16 {
		t.Errorf("FloatToSample(-2) = %d, want %d", got, math.MinInt16)
	}
	if got := audio.FloatToSample(0); got != 0 {
		t.Errorf("FloatToSample(0) = %d, want 0", got)
	}
}

func TestResampleMono(t *testing.T) {
	t.Parallel()

	in := make([]int16, 480)
	for i := range in {
		in[i] = int16(i)
	}
	out := audio.ResampleMono(in, 48000, 16000)
	if len(out) != 160 {
		t.Fatalf("len = %d, want 160", len(out))
	}
	if out[1] != 3 {
		t.Fatalf("out[1] = %d, want 3", out[1])
	}

	same := audio.ResampleMono(in, 16000, 16000)
	if &same[0] != &in[0] {
		t.Fatal("equal rates should return the input unchanged")
	}
}

func TestFormatString(t *testing.T) {
	t.Parallel()

	if got := (audio.Format{SampleRate: 16000, Channels: 1}).String(); got != "16000Hz mono" {
		t.Fatalf("String = %q, want %q", got, "16000Hz mono")
	}
}
