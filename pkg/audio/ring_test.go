package audio_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/genie/pkg/audio"
)

// seqFrame returns a frame of n samples all set to v.
func seqFrame(n int, v int16) []int16 {
	f := make([]int16, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestFrameRing_DropNewestWhenFull(t *testing.T) {
	t.Parallel()

	const frameLen = 4
	r := audio.NewFrameRing(8, frameLen)

	accepted := 0
	for i := range 10 {
		if r.Write(seqFrame(frameLen, int16(i+1))) {
			accepted++
		}
	}
	if accepted != 8 {
		t.Fatalf("accepted = %d, want 8", accepted)
	}

	st := r.Stats()
	if st.Dropped != 2 {
		t.Fatalf("Dropped = %d, want 2", st.Dropped)
	}

	dst := make([]int16, 8*frameLen)
	n, err := r.Read(dst, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 8*frameLen {
		t.Fatalf("Read n = %d, want %d", n, 8*frameLen)
	}
	for i := range 8 {
		for j := range frameLen {
			if got := dst[i*frameLen+j]; got != int16(i+1) {
				t.Fatalf("frame %d sample %d = %d, want %d", i, j, got, i+1)
			}
		}
	}
}

func TestFrameRing_ReadTimeout(t *testing.T) {
	t.Parallel()

	r := audio.NewFrameRing(2, 4)
	start := time.Now()
	_, err := r.Read(make([]int16, 4), 30*time.Millisecond)
	if !errors.Is(err, audio.ErrReadTimeout) {
		t.Fatalf("err = %v, want ErrReadTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("Read returned after %v, want >= 25ms", elapsed)
	}
}

func TestFrameRing_ReadReturnsPartialWithoutWaiting(t *testing.T) {
	t.Parallel()

	r := audio.NewFrameRing(4, 4)
	r.Write(seqFrame(4, 7))

	start := time.Now()
	n, err := r.Read(make([]int16, 16), time.Second)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 4 {
		t.Fatalf("n = %d, want 4", n)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Read waited %v for more data, want immediate return", elapsed)
	}
}

func TestFrameRing_ReadWakesOnWrite(t *testing.T) {
	t.Parallel()

	r := audio.NewFrameRing(4, 4)
	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Write(seqFrame(4, 3))
	}()

	n, err := r.Read(make([]int16, 4), time.Second)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 4 {
		t.Fatalf("n = %d, want 4", n)
	}
}

func TestFrameRing_WrapAround(t *testing.T) {
	t.Parallel()

	r := audio.NewFrameRing(3, 2)
	dst := make([]int16, 2)
	for i := range 10 {
		if !r.Write([]int16{int16(i), int16(i + 100)}) {
			t.Fatalf("write %d rejected", i)
		}
		n, err := r.Read(dst, 10*time.Millisecond)
		if err != nil || n != 2 {
			t.Fatalf("read %d: n=%d err=%v", i, n, err)
		}
		if dst[0] != int16(i) || dst[1] != int16(i+100) {
			t.Fatalf("read %d = %v, want [%d %d]", i, dst, i, i+100)
		}
	}
}

func TestFrameRing_Conservation(t *testing.T) {
	t.Parallel()

	const frameLen = 8
	r := audio.NewFrameRing(4, frameLen)

	var wg sync.WaitGroup
	var delivered int
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]int16, 3*frameLen)
		for {
			n, err := r.Read(buf, 5*time.Millisecond)
			delivered += n
			if errors.Is(err, audio.ErrRingClosed) {
				return
			}
			select {
			case <-stop:
				if n == 0 {
					return
				}
			default:
			}
		}
	}()

	for i := range 500 {
		r.Write(seqFrame(frameLen, int16(i)))
	}
	close(stop)
	r.Close()
	wg.Wait()

	st := r.Stats()
	if st.Accepted+st.Dropped != 500 {
		t.Fatalf("Accepted+Dropped = %d, want 500", st.Accepted+st.Dropped)
	}
	if got := st.DeliveredSamples + uint64(st.Buffered); got != st.AcceptedSamples {
		t.Fatalf("delivered+buffered = %d, want accepted %d", got, st.AcceptedSamples)
	}
	if uint64(delivered) != st.DeliveredSamples {
		t.Fatalf("reader saw %d samples, stats say %d", delivered, st.DeliveredSamples)
	}
}

func TestFrameRing_CloseUnblocksReader(t *testing.T) {
	t.Parallel()

	r := audio.NewFrameRing(2, 4)
	errc := make(chan error, 1)
	go func() {
		_, err := r.Read(make([]int16, 4), 5*time.Second)
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	r.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, audio.ErrRingClosed) {
			t.Fatalf("err = %v, want ErrRingClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Close")
	}

	if r.Write(seqFrame(4, 1)) {
		t.Fatal("Write after Close accepted")
	}
	if st := r.Stats(); st.Dropped != 0 {
		t.Fatalf("Dropped = %d after closed write, want 0", st.Dropped)
	}
}

func TestFrameRing_Flush(t *testing.T) {
	t.Parallel()

	r := audio.NewFrameRing(2, 4)
	r.Write(seqFrame(4, 1))
	r.Flush()

	if _, err := r.Read(make([]int16, 4), 0); !errors.Is(err, audio.ErrReadTimeout) {
		t.Fatalf("Read after Flush err = %v, want ErrReadTimeout", err)
	}
	st := r.Stats()
	if st.FlushedSamples != 4 {
		t.Fatalf("FlushedSamples = %d, want 4", st.FlushedSamples)
	}
}
