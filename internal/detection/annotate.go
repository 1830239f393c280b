package detection

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"braillescan/internal/model"
)

var (
	boxColor   = color.RGBA{R: 0, G: 200, B: 83, A: 255}
	labelBG    = color.RGBA{R: 0, G: 200, B: 83, A: 255}
	labelColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

const boxStroke = 2

// CreateAnnotatedImage draws each prediction's box and label over the source
// image and writes the result to dstPath as PNG.
func CreateAnnotatedImage(srcPath string, predictions []model.Prediction, dstPath string) error {
	raw, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("read source image failed: %w", err)
	}
	src, err := decodeImage(raw)
	if err != nil {
		return fmt.Errorf("decode source image failed: %w", err)
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	face := basicfont.Face7x13
	for _, p := range predictions {
		rect := image.Rect(
			bounds.Min.X+int(p.Left()), bounds.Min.Y+int(p.Top()),
			bounds.Min.X+int(p.Right()), bounds.Min.Y+int(p.Bottom()),
		).Intersect(bounds)
		if rect.Empty() {
			continue
		}
		strokeRect(canvas, rect, boxColor)
		drawLabel(canvas, face, rect, p.Class)
	}

	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create annotated image failed: %w", err)
	}
	if err := png.Encode(out, canvas); err != nil {
		out.Close()
		return fmt.Errorf("encode annotated image failed: %w", err)
	}
	return out.Close()
}

func strokeRect(dst *image.RGBA, r image.Rectangle, c color.Color) {
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+boxStroke),
		image.Rect(r.Min.X, r.Max.Y-boxStroke, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+boxStroke, r.Max.Y),
		image.Rect(r.Max.X-boxStroke, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), u, image.Point{}, draw.Src)
	}
}

func drawLabel(dst *image.RGBA, face font.Face, box image.Rectangle, text string) {
	if text == "" {
		return
	}
	metrics := face.Metrics()
	height := (metrics.Ascent + metrics.Descent).Ceil()
	width := font.MeasureString(face, text).Ceil()

	top := box.Min.Y - height
	if top < dst.Bounds().Min.Y {
		top = box.Min.Y
	}
	bg := image.Rect(box.Min.X, top, box.Min.X+width+2, top+height).Intersect(dst.Bounds())
	draw.Draw(dst, bg, image.NewUniform(labelBG), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(labelColor),
		Face: face,
		Dot:  fixed.P(box.Min.X+1, top+metrics.Ascent.Ceil()),
	}
	d.DrawString(text)
}

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err == nil {
		return img, nil
	}
	if img, jerr := jpeg.Decode(bytes.NewReader(data)); jerr == nil {
		return img, nil
	}
	if img, perr := png.Decode(bytes.NewReader(data)); perr == nil {
		return img, nil
	}
	return nil, err
}
