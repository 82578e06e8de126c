package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/saluslabs/clinic-assistant/internal/observability/metrics"
	"github.com/saluslabs/clinic-assistant/pkg/logging"
)

// Synthesizer turns reply text into base64-encoded speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// Reply is what the conversation layer asks to deliver.
type Reply struct {
	Text      string
	WantAudio bool
}

// Dispatcher turns one assistant reply into an ordered sequence of gateway
// sends. The first failed send aborts the rest so the user never sees a
// gap in the middle of a reply.
type Dispatcher struct {
	gateway     Gateway
	speech      Synthesizer
	delay       time.Duration
	maxSegments int
	metrics     *metrics.AssistantMetrics
	logger      *logging.Logger
}

// NewDispatcher wires a dispatcher. speech may be nil, which disables audio
// replies entirely.
func NewDispatcher(gateway Gateway, speech Synthesizer, delay time.Duration, maxSegments int, m *metrics.AssistantMetrics, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	if maxSegments <= 0 {
		maxSegments = 6
	}
	return &Dispatcher{
		gateway:     gateway,
		speech:      speech,
		delay:       delay,
		maxSegments: maxSegments,
		metrics:     m,
		logger:      logger,
	}
}

// Dispatch delivers reply to number. Embedded images go out first with their
// captions, then the remaining prose. Audio replies fall back to text when
// synthesis fails; a failed gateway send is returned immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, number string, reply Reply) error {
	text, images := ExtractImages(reply.Text)
	text = RewriteForWhatsApp(text)

	if err := d.sendImages(ctx, number, images); err != nil {
		return err
	}

	if reply.WantAudio && d.speech != nil && text != "" {
		if err := d.dispatchAudio(ctx, number, text); err == nil {
			return nil
		}
		// fall through to plain text
	}

	for i, segment := range SplitSegments(text, d.maxSegments) {
		if i > 0 || len(images) > 0 {
			if err := d.pause(ctx); err != nil {
				return err
			}
		}
		if err := d.gateway.SendText(ctx, number, segment); err != nil {
			d.metrics.ObserveOutbound("text", "failed")
			return fmt.Errorf("messaging: dispatch segment %d: %w", i+1, err)
		}
		d.metrics.ObserveOutbound("text", "sent")
	}
	return nil
}

func (d *Dispatcher) dispatchAudio(ctx context.Context, number, text string) error {
	audio, err := d.speech.Synthesize(ctx, text)
	if err != nil {
		d.metrics.ObserveOutbound("audio", "synthesis_failed")
		d.logger.Warn("speech synthesis failed, falling back to text", "error", err)
		return err
	}
	if err := d.gateway.SendAudio(ctx, number, audio); err != nil {
		d.metrics.ObserveOutbound("audio", "failed")
		d.logger.Warn("audio send failed, falling back to text", "error", err)
		return err
	}
	d.metrics.ObserveOutbound("audio", "sent")
	return nil
}

func (d *Dispatcher) sendImages(ctx context.Context, number string, images []Image) error {
	for i, img := range images {
		if i > 0 {
			if err := d.pause(ctx); err != nil {
				return err
			}
		}
		if err := d.gateway.SendImage(ctx, number, img.URL, img.Caption); err != nil {
			d.metrics.ObserveOutbound("image", "failed")
			return fmt.Errorf("messaging: dispatch image: %w", err)
		}
		d.metrics.ObserveOutbound("image", "sent")
	}
	return nil
}

func (d *Dispatcher) pause(ctx context.Context) error {
	if d.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(d.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
