package services

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/HammerMeetNail/bingohall/internal/models"
)

// CardImageOptions controls what state is painted onto a card image.
type CardImageOptions struct {
	// Caption is shown under the card number, e.g. the player or room.
	Caption string
	Marked  models.NumberSet
	// Drawn numbers that are not yet marked are highlighted as a hint.
	Drawn models.NumberSet
}

const (
	cardImageWidth   = 640
	cardImageHeight  = 760
	cardPadding      = 40
	cardTitleHeight  = 110
	cardBorderWidth  = 2
	cardCellSize     = (cardImageWidth - cardPadding*2) / models.GridSize
	cardLetterHeight = 64
)

var (
	fontOnce      sync.Once
	parsedGoFont  *opentype.Font
	parsedGoError error

	cardBackground = color.RGBA{0xFA, 0xF9, 0xF7, 0xFF}
	cardInk        = color.RGBA{0x2D, 0x2D, 0x2D, 0xFF}
	cardMuted      = color.RGBA{0x6B, 0x6B, 0x6B, 0xFF}
	cardLine       = color.RGBA{0x3A, 0x3A, 0x3A, 0xFF}
	cellPlain      = color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}
	cellFree       = color.RGBA{0xF1, 0xF0, 0xEB, 0xFF}
	cellMarked     = color.RGBA{0xD7, 0xF3, 0xE3, 0xFF}
	cellMarkedInk  = color.RGBA{0x1B, 0x4D, 0x3E, 0xFF}
	cellDrawn      = color.RGBA{0xFF, 0xF1, 0xC9, 0xFF}
)

// cardCellRect is the on-image square for grid position [row][col].
func cardCellRect(row, col int) image.Rectangle {
	top := cardTitleHeight + cardLetterHeight
	return image.Rect(
		cardPadding+col*cardCellSize,
		top+row*cardCellSize,
		cardPadding+(col+1)*cardCellSize,
		top+(row+1)*cardCellSize,
	)
}

// RenderCardPNG renders a bingo card as a PNG for the bot to send.
func RenderCardPNG(card models.Card, opts CardImageOptions) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, cardImageWidth, cardImageHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: cardBackground}, image.Point{}, draw.Src)

	titleFace, err := newFontFace(36)
	if err != nil {
		return nil, err
	}
	defer func() { _ = titleFace.Close() }()

	captionFace, err := newFontFace(18)
	if err != nil {
		return nil, err
	}
	defer func() { _ = captionFace.Close() }()

	numberFace, err := newFontFace(40)
	if err != nil {
		return nil, err
	}
	defer func() { _ = numberFace.Close() }()

	drawText(img, titleFace, cardPadding, 52, fmt.Sprintf("Card #%d", card.Number), cardInk)
	if caption := strings.TrimSpace(opts.Caption); caption != "" {
		width := cardImageWidth - cardPadding*2
		lines := clampLines(captionFace, wrapText(captionFace, caption, width), 1, width)
		drawText(img, captionFace, cardPadding, 88, lines[0], cardMuted)
	}

	for col := 0; col < models.GridSize; col++ {
		cell := cardCellRect(0, col)
		letter := image.Rect(cell.Min.X, cardTitleHeight, cell.Max.X, cardTitleHeight+cardLetterHeight)
		drawWrappedText(img, numberFace, letter, []string{string(models.ColumnLetters[col])}, cardInk)
	}

	for row := 0; row < models.GridSize; row++ {
		for col := 0; col < models.GridSize; col++ {
			rect := cardCellRect(row, col)
			value := card.Grid[row][col]
			bg, ink := cellColors(value, opts)

			draw.Draw(img, rect, &image.Uniform{C: bg}, image.Point{}, draw.Src)
			drawBorder(img, rect, cardBorderWidth, cardLine)

			face := numberFace
			if value.IsFree() {
				face = captionFace
			}
			drawWrappedText(img, face, rect, []string{value.String()}, ink)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func cellColors(value models.Cell, opts CardImageOptions) (color.RGBA, color.RGBA) {
	switch {
	case value.IsFree():
		return cellFree, cardInk
	case opts.Marked.Has(value.Number()):
		return cellMarked, cellMarkedInk
	case opts.Drawn.Has(value.Number()):
		return cellDrawn, cardInk
	}
	return cellPlain, cardInk
}

func newFontFace(size float64) (*opentype.Face, error) {
	fontOnce.Do(func() {
		parsedGoFont, parsedGoError = opentype.Parse(goregular.TTF)
	})
	if parsedGoError != nil {
		return nil, fmt.Errorf("parse font: %w", parsedGoError)
	}
	face, err := opentype.NewFace(parsedGoFont, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("load font face: %w", err)
	}
	otFace, ok := face.(*opentype.Face)
	if !ok {
		return nil, fmt.Errorf("load font face: unexpected type")
	}
	return otFace, nil
}

func drawText(img draw.Image, face font.Face, x, y int, text string, clr color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(clr),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func drawBorder(img draw.Image, rect image.Rectangle, width int, clr color.Color) {
	border := image.NewUniform(clr)
	draw.Draw(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+width), border, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(rect.Min.X, rect.Max.Y-width, rect.Max.X, rect.Max.Y), border, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+width, rect.Max.Y), border, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(rect.Max.X-width, rect.Min.Y, rect.Max.X, rect.Max.Y), border, image.Point{}, draw.Src)
}

func wrapText(face font.Face, text string, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{}
	}

	d := &font.Drawer{Face: face}
	lines := []string{}
	current := words[0]

	for _, word := range words[1:] {
		test := current + " " + word
		if d.MeasureString(test).Ceil() <= maxWidth {
			current = test
			continue
		}
		lines = append(lines, current)
		current = word
	}
	lines = append(lines, current)
	return lines
}

// clampLines keeps at most maxLines, ending the last kept line with "..."
// when anything was cut.
func clampLines(face font.Face, lines []string, maxLines int, maxWidth int) []string {
	if len(lines) <= maxLines {
		return lines
	}
	lines = lines[:maxLines]
	last := lines[maxLines-1]
	ellipsis := "..."
	d := &font.Drawer{Face: face}

	runes := []rune(last)
	for d.MeasureString(string(runes)+ellipsis).Ceil() > maxWidth && len(runes) > 0 {
		runes = runes[:len(runes)-1]
	}
	lines[maxLines-1] = strings.TrimSpace(string(runes)) + ellipsis
	return lines
}

func drawWrappedText(img draw.Image, face font.Face, rect image.Rectangle, lines []string, clr color.Color) {
	if len(lines) == 0 {
		return
	}
	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()
	textHeight := lineHeight * len(lines)
	startY := rect.Min.Y + (rect.Dy()-textHeight)/2 + metrics.Ascent.Ceil()

	for i, line := range lines {
		lineWidth := font.MeasureString(face, line).Ceil()
		x := rect.Min.X + (rect.Dx()-lineWidth)/2
		y := startY + i*lineHeight
		drawText(img, face, x, y, line, clr)
	}
}
