package stencil

import (
	"fmt"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/image"
	"github.com/johnfercher/maroto/v2/pkg/components/page"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/extension"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// RenderSheet lays out one tile per page with its grid position, ready to print.
func RenderSheet(tiles []Tile, title string) ([]byte, error) {
	if len(tiles) == 0 {
		return nil, ErrNoTiles
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Stencil"
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)
	for _, tile := range tiles {
		m.AddPages(page.New().Add(
			row.New(12).Add(
				text.NewCol(8, title, props.Text{
					Size:  14,
					Style: fontstyle.Bold,
					Align: align.Left,
				}),
				text.NewCol(4, fmt.Sprintf("Row %d, column %d", tile.Row+1, tile.Col+1), props.Text{
					Size:  10,
					Align: align.Right,
				}),
			),
			row.New(230).Add(
				image.NewFromBytesCol(12, tile.Data, extension.Png, props.Rect{
					Center:  true,
					Percent: 95,
				}),
			),
		))
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
