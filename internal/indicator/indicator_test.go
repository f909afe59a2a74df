package indicator

import (
	"os"
	"path/filepath"
	"testing"
)

func fakeLED(t *testing.T, maxBrightness string) (root, brightness string) {
	t.Helper()
	root = t.TempDir()
	dir := filepath.Join(root, "genie:listen")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	brightness = filepath.Join(dir, "brightness")
	if err := os.WriteFile(brightness, []byte("0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if maxBrightness != "" {
		if err := os.WriteFile(filepath.Join(dir, "max_brightness"), []byte(maxBrightness), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root, brightness
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestLED_SetEnabled(t *testing.T) {
	t.Parallel()

	root, brightness := fakeLED(t, "255\n")
	led, err := NewLED(root, "genie:listen")
	if err != nil {
		t.Fatalf("NewLED: %v", err)
	}

	led.SetEnabled(true)
	if got := readFile(t, brightness); got != "255" {
		t.Errorf("brightness = %q, want 255", got)
	}
	if !led.Enabled() {
		t.Error("Enabled() = false after SetEnabled(true)")
	}
	led.SetEnabled(false)
	if got := readFile(t, brightness); got != "0" {
		t.Errorf("brightness = %q, want 0", got)
	}
}

func TestLED_DefaultsToOne(t *testing.T) {
	t.Parallel()

	root, brightness := fakeLED(t, "")
	led, err := NewLED(root, "genie:listen")
	if err != nil {
		t.Fatalf("NewLED: %v", err)
	}
	led.SetEnabled(true)
	if got := readFile(t, brightness); got != "1" {
		t.Errorf("brightness = %q, want 1", got)
	}
}

func TestNewLED_Missing(t *testing.T) {
	t.Parallel()

	if _, err := NewLED(t.TempDir(), "nope"); err == nil {
		t.Error("NewLED on missing device succeeded")
	}
}

func TestMulti(t *testing.T) {
	t.Parallel()

	a, b := &Log{}, &Log{}
	m := Multi{a, b}
	m.SetEnabled(true)
	if !a.Enabled() || !b.Enabled() {
		t.Error("Multi did not enable every indicator")
	}
	m.SetEnabled(false)
	if a.Enabled() || b.Enabled() {
		t.Error("Multi did not disable every indicator")
	}
}
