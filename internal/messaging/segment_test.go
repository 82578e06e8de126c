package messaging

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestExtractImages(t *testing.T) {
	text := "Veja o mapa:\n\n![mapa](https://cdn.example.com/mapa.png)\n\nAté logo!"
	cleaned, images := ExtractImages(text)

	if len(images) != 1 || images[0].URL != "https://cdn.example.com/mapa.png" {
		t.Fatalf("images = %+v", images)
	}
	if images[0].Caption != "mapa" {
		t.Errorf("caption = %q, want the alt text", images[0].Caption)
	}
	if strings.Contains(cleaned, "![") {
		t.Errorf("image markup left in text: %q", cleaned)
	}
}

func TestRewriteForWhatsApp(t *testing.T) {
	in := "Pague aqui: [boleto](https://pay.example.com/abc) **hoje**【4:2†fonte】"
	got := RewriteForWhatsApp(in)
	want := "Pague aqui: boleto: https://pay.example.com/abc *hoje*"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSplitSegmentsOnBlankLines(t *testing.T) {
	got := SplitSegments("primeira\n\nsegunda\n\n\nterceira", 6)
	if len(got) != 3 {
		t.Fatalf("segments = %v", got)
	}
	if got[0] != "primeira" || got[2] != "terceira" {
		t.Errorf("segments = %v", got)
	}
}

func TestSplitSegmentsFoldsOverflowIntoLast(t *testing.T) {
	got := SplitSegments("a\n\nb\n\nc\n\nd", 2)
	if len(got) != 2 {
		t.Fatalf("segments = %v", got)
	}
	if got[1] != "b\n\nc\n\nd" {
		t.Errorf("tail = %q", got[1])
	}
}

func TestSplitSegmentsEmpty(t *testing.T) {
	if got := SplitSegments("  \n\n  ", 6); got != nil {
		t.Fatalf("segments = %v, want nil", got)
	}
}

func TestSplitSegmentsLongBlock(t *testing.T) {
	block := strings.Repeat("Uma frase completa aqui. ", 80)
	got := SplitSegments(block, 6)
	if len(got) < 2 {
		t.Fatalf("long block not split: %d segments", len(got))
	}
	for _, s := range got {
		if len(s) > 1100 {
			t.Errorf("segment too long: %d bytes", len(s))
		}
	}
}

func TestSniffMimetype(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
		want string
	}{
		{"ogg", []byte("OggS\x00\x02 rest of header bytes"), "application/ogg"},
		{"mp3 frame", []byte{0xFF, 0xFB, 0x90, 0x00, 0x00, 0x00}, "audio/mpeg"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}, "image/jpeg"},
	}
	for _, tc := range cases {
		got := SniffMimetype(base64.StdEncoding.EncodeToString(tc.raw))
		if got != tc.want {
			t.Errorf("%s: mimetype = %q, want %q", tc.name, got, tc.want)
		}
	}
	if got := SniffMimetype("!!!not base64!!!"); got != "application/octet-stream" {
		t.Errorf("garbage: mimetype = %q", got)
	}
}
