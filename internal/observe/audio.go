package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/genie/pkg/audio"
)

// AudioObserver adapts m to [audio.Observer] so the capture loop and the
// fan-out can report without depending on OpenTelemetry.
func (m *Metrics) AudioObserver() audio.Observer {
	return audioObserver{m: m}
}

type audioObserver struct {
	m *Metrics
}

func (o audioObserver) FrameCaptured(padded bool) {
	o.m.FramesCaptured.Add(context.Background(), 1,
		metric.WithAttributes(attribute.Bool("padded", padded)))
}

func (o audioObserver) CaptureFailed(error) {
	o.m.CaptureErrors.Add(context.Background(), 1)
}

func (o audioObserver) FrameDropped(tap string) {
	o.m.RingDrops.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("tap", tap)))
}
