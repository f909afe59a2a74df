package audio_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/genie/pkg/audio"
	"github.com/MrWong99/genie/pkg/audio/mock"
)

func TestFanout_IndependentTaps(t *testing.T) {
	t.Parallel()

	f := audio.NewFanout(4, 2)
	wake := f.Tap("wake", true)
	cmd := f.Tap("command", true)

	f.Write([]int16{1, 2})
	f.Write([]int16{3, 4})

	for _, tap := range []*audio.Tap{wake, cmd} {
		dst := make([]int16, 4)
		n, err := tap.Read(dst, 0)
		if err != nil {
			t.Fatalf("%s Read: %v", tap.Name(), err)
		}
		if n != 4 {
			t.Fatalf("%s n = %d, want 4", tap.Name(), n)
		}
		want := []int16{1, 2, 3, 4}
		for i := range want {
			if dst[i] != want[i] {
				t.Fatalf("%s sample %d = %d, want %d", tap.Name(), i, dst[i], want[i])
			}
		}
	}
}

func TestFanout_DisabledTapSeesNothing(t *testing.T) {
	t.Parallel()

	obs := &mock.Observer{}
	f := audio.NewFanout(1, 2, audio.WithFanoutObserver(obs))
	cmd := f.Tap("command", false)

	for range 5 {
		f.Write([]int16{1, 1})
	}

	if _, err := cmd.Read(make([]int16, 2), 0); !errors.Is(err, audio.ErrReadTimeout) {
		t.Fatalf("disabled tap Read err = %v, want ErrReadTimeout", err)
	}
	if got := obs.Drops("command"); got != 0 {
		t.Fatalf("disabled tap drops = %d, want 0", got)
	}
}

func TestFanout_EnableFlushesStaleAudio(t *testing.T) {
	t.Parallel()

	f := audio.NewFanout(4, 1)
	cmd := f.Tap("command", true)
	f.Write([]int16{9})
	cmd.Disable()
	f.Write([]int16{8})
	cmd.Enable()
	f.Write([]int16{5})

	dst := make([]int16, 4)
	n, err := cmd.Read(dst, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 1 || dst[0] != 5 {
		t.Fatalf("Read = %v (n=%d), want [5]", dst[:n], n)
	}
}

func TestFanout_DropsReportedPerTap(t *testing.T) {
	t.Parallel()

	obs := &mock.Observer{}
	f := audio.NewFanout(2, 1, audio.WithFanoutObserver(obs))
	f.Tap("wake", true)
	drain := f.Tap("command", true)

	for i := range 4 {
		f.Write([]int16{int16(i)})
		drain.Read(make([]int16, 1), 0)
	}

	if got := obs.Drops("wake"); got != 2 {
		t.Fatalf("wake drops = %d, want 2", got)
	}
	if got := obs.Drops("command"); got != 0 {
		t.Fatalf("command drops = %d, want 0", got)
	}
	if st := f.Stats()["wake"]; st.Dropped != 2 {
		t.Fatalf("wake ring Dropped = %d, want 2", st.Dropped)
	}
}
