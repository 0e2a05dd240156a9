// Package stencil cuts artwork into printable tiles.
package stencil

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	MaxGrid      = 12
	MaxTileWidth = 4096
	// MaxPixels bounds both the decoded source and the sum of all scaled tiles.
	MaxPixels = 50_000_000
)

var (
	ErrInvalidImage     = errors.New("invalid_image")
	ErrInvalidGrid      = errors.New("invalid_grid")
	ErrInvalidTileWidth = errors.New("invalid_tile_width")
	ErrImageTooSmall    = errors.New("image_too_small")
	ErrNoTiles          = errors.New("no_tiles")
)

// Tile is one PNG-encoded cell of the grid, addressed from the top-left corner.
type Tile struct {
	Row    int    `json:"row"`
	Col    int    `json:"col"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []byte `json:"data"`
}

// Decode reads a PNG, JPEG or WebP image. The header is checked against MaxPixels
// before any pixel data is decoded.
func Decode(r io.Reader) (image.Image, string, error) {
	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, MaxPixels)
	}

	img, format, err := image.Decode(io.MultiReader(&header, r))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	return img, format, nil
}

// Split cuts img into rows x cols tiles. A positive tileWidth rescales every tile to
// that width, keeping its aspect ratio.
func Split(img image.Image, rows, cols, tileWidth int) ([]Tile, error) {
	if img == nil {
		return nil, ErrInvalidImage
	}
	if rows < 1 || rows > MaxGrid || cols < 1 || cols > MaxGrid {
		return nil, ErrInvalidGrid
	}
	if tileWidth < 0 || tileWidth > MaxTileWidth {
		return nil, ErrInvalidTileWidth
	}

	b := img.Bounds()
	if int64(b.Dx())*int64(b.Dy()) > MaxPixels {
		return nil, ErrInvalidImage
	}
	if b.Dx() < cols || b.Dy() < rows {
		return nil, ErrImageTooSmall
	}

	cells := make([]image.Rectangle, 0, rows*cols)
	var total int64
	for r := 0; r < rows; r++ {
		y0 := b.Min.Y + r*b.Dy()/rows
		y1 := b.Min.Y + (r+1)*b.Dy()/rows
		for c := 0; c < cols; c++ {
			x0 := b.Min.X + c*b.Dx()/cols
			x1 := b.Min.X + (c+1)*b.Dx()/cols
			src := image.Rect(x0, y0, x1, y1)
			w, h := tileSize(src, tileWidth)
			total += int64(w) * int64(h)
			cells = append(cells, src)
		}
	}
	if total > MaxPixels {
		return nil, fmt.Errorf("%w: scaled tiles exceed %d pixels", ErrInvalidTileWidth, MaxPixels)
	}

	tiles := make([]Tile, 0, len(cells))
	for i, src := range cells {
		r, c := i/cols, i%cols
		dst := cutTile(img, src, tileWidth)
		var buf bytes.Buffer
		if err := png.Encode(&buf, dst); err != nil {
			return nil, fmt.Errorf("encode tile %d,%d: %w", r, c, err)
		}
		tiles = append(tiles, Tile{
			Row:    r,
			Col:    c,
			Width:  dst.Bounds().Dx(),
			Height: dst.Bounds().Dy(),
			Data:   buf.Bytes(),
		})
	}
	return tiles, nil
}

// tileSize reports the output dimensions for src scaled to tileWidth.
func tileSize(src image.Rectangle, tileWidth int) (int, int) {
	if tileWidth == 0 || tileWidth == src.Dx() {
		return src.Dx(), src.Dy()
	}
	height := (int64(src.Dy())*int64(tileWidth) + int64(src.Dx()/2)) / int64(src.Dx())
	if height < 1 {
		height = 1
	}
	if height > MaxPixels {
		height = MaxPixels + 1
	}
	return tileWidth, int(height)
}

func cutTile(img image.Image, src image.Rectangle, tileWidth int) *image.RGBA {
	w, h := tileSize(src, tileWidth)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == src.Dx() && h == src.Dy() {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	return dst
}
