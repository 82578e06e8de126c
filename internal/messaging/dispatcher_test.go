package messaging

import (
	"context"
	"errors"
	"testing"
	"time"
)

type sendCall struct {
	kind    string
	text    string
	caption string
}

type fakeGateway struct {
	calls    []sendCall
	failText int // fail the Nth text send (1-based), 0 disables
	failAll  bool
}

func (f *fakeGateway) SendText(_ context.Context, _, text string) error {
	f.calls = append(f.calls, sendCall{kind: "text", text: text})
	if f.failAll {
		return errors.New("gateway down")
	}
	textCount := 0
	for _, c := range f.calls {
		if c.kind == "text" {
			textCount++
		}
	}
	if f.failText > 0 && textCount == f.failText {
		return errors.New("gateway down")
	}
	return nil
}

func (f *fakeGateway) SendAudio(_ context.Context, _, audio string) error {
	f.calls = append(f.calls, sendCall{kind: "audio", text: audio})
	if f.failAll {
		return errors.New("gateway down")
	}
	return nil
}

func (f *fakeGateway) SendImage(_ context.Context, _, url, caption string) error {
	f.calls = append(f.calls, sendCall{kind: "image", text: url, caption: caption})
	if f.failAll {
		return errors.New("gateway down")
	}
	return nil
}

type fakeSynth struct {
	audio string
	err   error
}

func (f *fakeSynth) Synthesize(context.Context, string) (string, error) {
	return f.audio, f.err
}

func TestDispatchOrderedSegments(t *testing.T) {
	gw := &fakeGateway{}
	d := NewDispatcher(gw, nil, 0, 6, nil, nil)

	err := d.Dispatch(context.Background(), "5537999990000", Reply{Text: "primeira\n\nsegunda"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(gw.calls) != 2 || gw.calls[0].text != "primeira" || gw.calls[1].text != "segunda" {
		t.Fatalf("calls = %+v", gw.calls)
	}
}

func TestDispatchAbortsOnFirstFailure(t *testing.T) {
	gw := &fakeGateway{failText: 2}
	d := NewDispatcher(gw, nil, 0, 6, nil, nil)

	err := d.Dispatch(context.Background(), "5537999990000", Reply{Text: "a\n\nb\n\nc"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(gw.calls) != 2 {
		t.Fatalf("sends after failure: %+v", gw.calls)
	}
}

func TestDispatchAudioPath(t *testing.T) {
	gw := &fakeGateway{}
	d := NewDispatcher(gw, &fakeSynth{audio: "b64"}, 0, 6, nil, nil)

	err := d.Dispatch(context.Background(), "5537999990000", Reply{Text: "olá, tudo bem?", WantAudio: true})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(gw.calls) != 1 || gw.calls[0].kind != "audio" || gw.calls[0].text != "b64" {
		t.Fatalf("calls = %+v", gw.calls)
	}
}

func TestDispatchAudioFallsBackToText(t *testing.T) {
	gw := &fakeGateway{}
	d := NewDispatcher(gw, &fakeSynth{err: errors.New("tts down")}, 0, 6, nil, nil)

	err := d.Dispatch(context.Background(), "5537999990000", Reply{Text: "olá", WantAudio: true})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(gw.calls) != 1 || gw.calls[0].kind != "text" {
		t.Fatalf("calls = %+v", gw.calls)
	}
}

func TestDispatchSendsImageWithCaptionBeforeText(t *testing.T) {
	gw := &fakeGateway{}
	d := NewDispatcher(gw, nil, 0, 6, nil, nil)

	err := d.Dispatch(context.Background(), "5537999990000", Reply{
		Text: "Aqui está o mapa:\n\n![mapa da clínica](https://cdn.example.com/m.png)",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(gw.calls) != 2 {
		t.Fatalf("calls = %+v", gw.calls)
	}
	if gw.calls[0].kind != "image" || gw.calls[1].kind != "text" {
		t.Fatalf("order = %+v", gw.calls)
	}
	if gw.calls[0].text != "https://cdn.example.com/m.png" {
		t.Errorf("image url = %q", gw.calls[0].text)
	}
	if gw.calls[0].caption != "mapa da clínica" {
		t.Errorf("caption = %q, want the alt text", gw.calls[0].caption)
	}
}

func TestDispatchCancelledContext(t *testing.T) {
	gw := &fakeGateway{}
	d := NewDispatcher(gw, nil, time.Minute, 6, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Dispatch(ctx, "5537999990000", Reply{Text: "a\n\nb"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
