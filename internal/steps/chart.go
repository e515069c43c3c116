package steps

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"github.com/terra-clan/quiz-solver/internal/models"
)

type visualizeParams struct {
	Input  string `mapstructure:"input"`
	Column string `mapstructure:"column"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
}

var (
	chartBackground = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	chartAxis       = color.RGBA{R: 60, G: 60, B: 60, A: 255}
	chartBar        = color.RGBA{R: 66, G: 133, B: 244, A: 255}
	chartNegative   = color.RGBA{R: 219, G: 68, B: 55, A: 255}
)

// visualizeHandler renders numeric input as a PNG bar chart
type visualizeHandler struct{}

func (h *visualizeHandler) Execute(_ context.Context, step models.Step, results *models.ResultsRegistry) (any, error) {
	var p visualizeParams
	if err := decodeParams(step, &p); err != nil {
		return nil, err
	}
	if p.Width <= 0 {
		p.Width = 640
	}
	if p.Height <= 0 {
		p.Height = 400
	}
	if p.Width > 4096 || p.Height > 4096 {
		return nil, models.Permanent(fmt.Errorf("%w: chart size %dx%d", ErrBadParameters, p.Width, p.Height))
	}

	v, err := inputValue(step, results)
	if err != nil {
		return nil, err
	}

	value, err := parsePayload(v, "")
	if err != nil {
		return nil, err
	}

	nums, err := numbers(value, p.Column)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, models.Permanent(ErrNoNumericInput)
	}

	data, err := barChart(nums, p.Width, p.Height)
	if err != nil {
		return nil, models.Permanent(err)
	}

	return &models.Media{MIME: "image/png", Data: data}, nil
}

func barChart(values []float64, width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: chartBackground}, image.Point{}, draw.Src)

	const margin = 20
	plotW := width - 2*margin
	plotH := height - 2*margin
	if plotW <= 0 || plotH <= 0 {
		return nil, fmt.Errorf("chart too small: %dx%d", width, height)
	}

	lo, hi := 0.0, 0.0
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	// Baseline sits at zero so negative bars hang below it
	zeroY := margin + int(float64(plotH)*hi/span)

	slot := float64(plotW) / float64(len(values))
	barW := int(math.Max(1, slot*0.8))
	for i, v := range values {
		x0 := margin + int(slot*float64(i)+(slot-float64(barW))/2)
		h := int(float64(plotH) * math.Abs(v) / span)
		rect := image.Rect(x0, zeroY-h, x0+barW, zeroY)
		c := chartBar
		if v < 0 {
			rect = image.Rect(x0, zeroY, x0+barW, zeroY+h)
			c = chartNegative
		}
		draw.Draw(img, rect, &image.Uniform{C: c}, image.Point{}, draw.Src)
	}

	draw.Draw(img, image.Rect(margin, zeroY, width-margin, zeroY+1), &image.Uniform{C: chartAxis}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(margin, margin, margin+1, height-margin), &image.Uniform{C: chartAxis}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
