package icon

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encodePNG: %v", err)
	}
	return buf.Bytes()
}

func TestRenderRasterRejectsSourceBelowMinimum(t *testing.T) {
	data := encodePNG(t, 32, 32)
	if _, err := RenderRaster(data, 64, 64); err == nil {
		t.Fatal("expected error for a source below minRasterSourceSize")
	}
}

func TestRenderRasterResizesAndFlagsScaleUp(t *testing.T) {
	data := encodePNG(t, 48, 48)
	res, err := RenderRaster(data, 64, 64)
	if err != nil {
		t.Fatalf("RenderRaster: %v", err)
	}
	if !res.ScaledUp {
		t.Fatal("expected ScaledUp true when source is smaller than target")
	}
	decoded, err := png.Decode(bytes.NewReader(res.PNG))
	if err != nil {
		t.Fatalf("decode rendered PNG: %v", err)
	}
	b := decoded.Bounds()
	if b.Dx() != 64 || b.Dy() != 64 {
		t.Fatalf("rendered size = %dx%d, want 64x64", b.Dx(), b.Dy())
	}
}

func TestRenderRasterKeepSourceReturnsDecodedImage(t *testing.T) {
	data := encodePNG(t, 96, 96)
	res, src, err := RenderRasterKeepSource(data, 64, 64)
	if err != nil {
		t.Fatalf("RenderRasterKeepSource: %v", err)
	}
	if res.ScaledUp {
		t.Fatal("expected ScaledUp false when source is larger than target")
	}
	if src == nil || src.Bounds().Dx() != 96 {
		t.Fatalf("expected decoded source image with original 96px width, got %+v", src)
	}
}

func TestHasRsvgConvertDoesNotPanicWhenMissing(t *testing.T) {
	orig := RsvgConvertPath
	defer func() { RsvgConvertPath = orig }()
	RsvgConvertPath = "asgen-definitely-not-a-real-binary"
	if HasRsvgConvert() {
		t.Fatal("expected HasRsvgConvert to report false for a nonexistent binary")
	}
}
