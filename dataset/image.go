// MODUL: image
// ZWECK: Bilder dekodieren, skalieren und CLIP-normalisieren
// INPUT: Bild-Bytes (JPEG, PNG, WebP)
// OUTPUT: Flacher float64-Vektor im CHW-Layout
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: golang.org/x/image/draw, golang.org/x/image/webp, image/jpeg, image/png
// HINWEISE: Format-Erkennung ueber Magic-Bytes, nicht ueber die Dateiendung

package dataset

import (
	"bytes"
	"fmt"
	"image"

	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ImageFormat ist ein erkanntes Bildformat.
type ImageFormat string

const (
	FormatJPEG    ImageFormat = "jpeg"
	FormatPNG     ImageFormat = "png"
	FormatWebP    ImageFormat = "webp"
	FormatUnknown ImageFormat = "unknown"
)

// CLIP-Normalisierung
var (
	ClipMean = [3]float64{0.48145466, 0.4578275, 0.40821073}
	ClipStd  = [3]float64{0.26862954, 0.26130258, 0.27577711}
)

// DetectFormat erkennt das Format anhand der Magic-Bytes.
func DetectFormat(data []byte) ImageFormat {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG
	case bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47}):
		return FormatPNG
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return FormatWebP
	}
	return FormatUnknown
}

// DecodePixels dekodiert ein Bild, skaliert es auf size x size und gibt den
// CLIP-normalisierten Vektor (3 x size x size, CHW) zurueck.
func DecodePixels(data []byte, size int) ([]float64, error) {
	if DetectFormat(data) == FormatUnknown {
		return nil, ErrUnsupportedFormat
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("bild dekodieren fehlgeschlagen: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return normalizeCHW(dst), nil
}

// normalizeCHW skaliert auf [0,1] und normalisiert mit ClipMean/ClipStd.
func normalizeCHW(img *image.RGBA) []float64 {
	b := img.Bounds()
	plane := b.Dx() * b.Dy()
	out := make([]float64, 3*plane)

	idx := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			rgb := [3]float64{float64(c.R) / 255, float64(c.G) / 255, float64(c.B) / 255}
			for ch := 0; ch < 3; ch++ {
				out[ch*plane+idx] = (rgb[ch] - ClipMean[ch]) / ClipStd[ch]
			}
			idx++
		}
	}
	return out
}
