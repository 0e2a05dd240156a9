package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stencilflow/stencilflow/internal/providers/imagegen"
	"github.com/stencilflow/stencilflow/internal/stencil"
)

const (
	maxUploadBytes   = 20 << 20
	defaultSheetName = "Stencil sheet"
)

type splitImageResponse struct {
	Rows  int            `json:"rows"`
	Cols  int            `json:"cols"`
	Tiles []stencil.Tile `json:"tiles"`
}

type generateImageRequest struct {
	Prompt string `json:"prompt"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// SplitImage cuts an uploaded image into a grid of tiles, returned as JSON
// (base64 PNG per tile) or as a printable PDF sheet with format=pdf.
func (s *Server) SplitImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	file, _, err := c.Request.FormFile("image")
	if err != nil {
		if isMaxBytesError(err) {
			AbortWithError(c, ErrPayloadTooLarge)
			return
		}
		AbortWithError(c, newValidationError("image", "required", "image file is required"))
		return
	}
	defer file.Close()

	rows, err := formInt(c, "rows", 1)
	if err != nil {
		AbortWithError(c, newValidationError("rows", "invalid_rows", "rows must be a number"))
		return
	}
	cols, err := formInt(c, "cols", 1)
	if err != nil {
		AbortWithError(c, newValidationError("cols", "invalid_cols", "cols must be a number"))
		return
	}
	tileWidth, err := formInt(c, "tile_width", 0)
	if err != nil {
		AbortWithError(c, newValidationError("tile_width", "invalid_tile_width", "tile_width must be a number"))
		return
	}

	img, _, err := stencil.Decode(file)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	tiles, err := stencil.Split(img, rows, cols, tileWidth)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	switch strings.ToLower(strings.TrimSpace(c.PostForm("format"))) {
	case "", "json":
		c.JSON(http.StatusOK, splitImageResponse{Rows: rows, Cols: cols, Tiles: tiles})
	case "pdf":
		title := strings.TrimSpace(c.PostForm("title"))
		if title == "" {
			title = defaultSheetName
		}
		doc, err := stencil.RenderSheet(tiles, title)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="stencil-sheet.pdf"`)
		c.Data(http.StatusOK, "application/pdf", doc)
	default:
		AbortWithError(c, newValidationError("format", "invalid_format", "format must be json or pdf"))
	}
}

func (s *Server) GenerateImage(c *gin.Context) {
	if s.imageGen == nil {
		AbortWithError(c, imagegen.ErrNotConfigured)
		return
	}

	var req generateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	img, err := s.imageGen.Generate(c.Request.Context(), imagegen.GenerateRequest{
		Prompt: req.Prompt,
		Width:  req.Width,
		Height: req.Height,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	contentType := img.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	c.Data(http.StatusOK, contentType, img.Data)
}

func formInt(c *gin.Context, field string, def int) (int, error) {
	raw := strings.TrimSpace(c.PostForm(field))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
