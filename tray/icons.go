// Package tray shows connection state in the system tray and offers a
// menu to connect and disconnect profiles.
package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
)

// Symbol is the glyph drawn inside the shield.
type Symbol int

const (
	SymbolLock Symbol = iota
	SymbolCheck
	SymbolDots
	SymbolCross
)

// IconConfig defines the configuration for icon generation.
type IconConfig struct {
	Size        int
	FillColor   color.RGBA
	BorderColor color.RGBA
	AccentColor color.RGBA
	SymbolColor color.RGBA
	Symbol      Symbol
}

// Indicator is what the tray icon shows.
type Indicator int

const (
	IndicatorDisconnected Indicator = iota
	IndicatorConnecting
	IndicatorConnected
	IndicatorError
)

var white = color.RGBA{255, 255, 255, 255}

// ConfigFor returns the icon configuration of an indicator.
func ConfigFor(ind Indicator) IconConfig {
	switch ind {
	case IndicatorConnected:
		return IconConfig{
			Size:        22,
			FillColor:   color.RGBA{56, 142, 60, 255},
			BorderColor: color.RGBA{76, 175, 80, 255},
			AccentColor: color.RGBA{200, 230, 201, 255},
			SymbolColor: white,
			Symbol:      SymbolCheck,
		}
	case IndicatorConnecting:
		return IconConfig{
			Size:        22,
			FillColor:   color.RGBA{245, 124, 0, 255},
			BorderColor: color.RGBA{255, 167, 38, 255},
			AccentColor: color.RGBA{255, 224, 178, 255},
			SymbolColor: white,
			Symbol:      SymbolDots,
		}
	case IndicatorError:
		return IconConfig{
			Size:        22,
			FillColor:   color.RGBA{198, 40, 40, 255},
			BorderColor: color.RGBA{239, 83, 80, 255},
			AccentColor: color.RGBA{255, 205, 210, 255},
			SymbolColor: white,
			Symbol:      SymbolCross,
		}
	default:
		return IconConfig{
			Size:        22,
			FillColor:   color.RGBA{117, 117, 117, 255},
			BorderColor: color.RGBA{158, 158, 158, 255},
			AccentColor: color.RGBA{189, 189, 189, 255},
			SymbolColor: white,
			Symbol:      SymbolLock,
		}
	}
}

var (
	iconMu    sync.Mutex
	iconCache = make(map[Indicator][]byte)
)

// Icon returns the PNG bytes for an indicator, generated once.
func Icon(ind Indicator) []byte {
	iconMu.Lock()
	defer iconMu.Unlock()

	if b, ok := iconCache[ind]; ok {
		return b
	}
	b := Generate(ConfigFor(ind))
	iconCache[ind] = b
	return b
}

// Generate renders an icon and returns the PNG bytes.
func Generate(cfg IconConfig) []byte {
	img := image.NewRGBA(image.Rect(0, 0, cfg.Size, cfg.Size))

	drawShield(img, cfg)

	switch cfg.Symbol {
	case SymbolCheck:
		drawCheckmark(img, cfg)
	case SymbolDots:
		drawDots(img, cfg)
	case SymbolCross:
		drawCross(img, cfg)
	default:
		drawLock(img, cfg)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func drawShield(img *image.RGBA, cfg IconConfig) {
	size := cfg.Size
	centerX := float64(size) / 2
	topY := 1.0
	bottomY := float64(size) - 2
	shieldWidth := float64(size) - 4

	inShield := func(x, y float64) bool {
		relY := (y - topY) / (bottomY - topY)
		if relY < 0 || relY > 1 {
			return false
		}

		var halfWidth float64
		if relY < 0.5 {
			halfWidth = shieldWidth/2 - relY*0.5
		} else {
			progress := (relY - 0.5) * 2
			halfWidth = (shieldWidth/2 - 0.25) * (1 - progress*progress)
		}
		return x >= centerX-halfWidth && x <= centerX+halfWidth
	}

	for y := range size {
		for x := range size {
			fx, fy := float64(x)+0.5, float64(y)+0.5
			if !inShield(fx, fy) {
				continue
			}

			border := !inShield(fx-1, fy) || !inShield(fx+1, fy) ||
				!inShield(fx, fy-1) || !inShield(fx, fy+1)
			switch {
			case border:
				img.Set(x, y, cfg.BorderColor)
			case float64(y)/float64(size) < 0.3:
				img.Set(x, y, cfg.AccentColor)
			default:
				img.Set(x, y, cfg.FillColor)
			}
		}
	}
}

func setAll(img *image.RGBA, c color.RGBA, points ...image.Point) {
	b := img.Bounds()
	for _, p := range points {
		if p.In(b) {
			img.Set(p.X, p.Y, c)
		}
	}
}

func drawCheckmark(img *image.RGBA, cfg IconConfig) {
	setAll(img, cfg.SymbolColor,
		image.Pt(6, 11), image.Pt(7, 11), image.Pt(7, 12), image.Pt(8, 12),
		image.Pt(8, 13), image.Pt(9, 13), image.Pt(9, 12), image.Pt(10, 12),
		image.Pt(10, 11), image.Pt(11, 11), image.Pt(11, 10), image.Pt(12, 10),
		image.Pt(12, 9), image.Pt(13, 9), image.Pt(13, 8), image.Pt(14, 8),
	)
}

func drawLock(img *image.RGBA, cfg IconConfig) {
	var pts []image.Point
	for y := 10; y <= 15; y++ {
		for x := 8; x <= 14; x++ {
			if y == 10 || y == 15 || x == 8 || x == 14 {
				pts = append(pts, image.Pt(x, y))
			}
		}
	}
	for y := 6; y <= 8; y++ {
		pts = append(pts, image.Pt(9, y), image.Pt(13, y))
	}
	for x := 10; x <= 12; x++ {
		pts = append(pts, image.Pt(x, 6))
	}
	setAll(img, cfg.SymbolColor, pts...)
}

// drawDots draws three 2x2 dots across the middle.
func drawDots(img *image.RGBA, cfg IconConfig) {
	var pts []image.Point
	for _, x := range []int{6, 10, 14} {
		pts = append(pts, image.Pt(x, 10), image.Pt(x+1, 10), image.Pt(x, 11), image.Pt(x+1, 11))
	}
	setAll(img, cfg.SymbolColor, pts...)
}

func drawCross(img *image.RGBA, cfg IconConfig) {
	var pts []image.Point
	for i := 0; i <= 6; i++ {
		pts = append(pts, image.Pt(8+i, 7+i), image.Pt(14-i, 7+i))
	}
	setAll(img, cfg.SymbolColor, pts...)
}
