package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/stager/internal/api/response"
	"github.com/kiranshivaraju/stager/internal/catalog"
	"github.com/kiranshivaraju/stager/internal/validate"
	"github.com/kiranshivaraju/stager/pkg/models"
	"github.com/kiranshivaraju/stager/pkg/pricing"
)

// NewListStylesHandler returns an http.HandlerFunc for GET /api/v1/styles.
func NewListStylesHandler(c *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		styles := c.ListStyles()
		response.Collection(w, styles, response.ListMeta{Count: len(styles)})
	}
}

// NewListItemsHandler returns an http.HandlerFunc for
// GET /api/v1/rooms/{roomType}/items. Unknown room types list nothing.
func NewListItemsHandler(c *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items := c.ListItems(models.RoomType(chi.URLParam(r, "roomType")))
		response.Collection(w, items, response.ListMeta{Count: len(items)})
	}
}

type estimateResponse struct {
	Style          models.StyleID    `json:"style"`
	Resolution     models.Resolution `json:"resolution"`
	ItemCount      int               `json:"item_count"`
	BaseCost       int               `json:"base_cost"`
	StyleSurcharge int               `json:"style_surcharge"`
	ItemsCost      int               `json:"items_cost"`
	Cost           int               `json:"cost"`
}

// NewEstimateHandler returns an http.HandlerFunc for
// GET /api/v1/estimate?style=&resolution=&items=.
func NewEstimateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var msgs []string

		style := models.StyleID(q.Get("style"))
		if !style.Valid() {
			msgs = append(msgs, "style must be a known style id, got "+strconv.Quote(q.Get("style")))
		}

		res := models.Resolution(strings.ToLower(strings.TrimSpace(q.Get("resolution"))))
		if res == "" {
			res = models.DefaultResolution
		}
		if !res.Valid() {
			msgs = append(msgs, "resolution must be one of 1k, 2k, 4k, got "+strconv.Quote(q.Get("resolution")))
		}

		count := 0
		if raw := q.Get("items"); raw != "" {
			n, err := strconv.Atoi(raw)
			switch {
			case err != nil || n < 0:
				msgs = append(msgs, "items must be a non-negative integer")
			case n > validate.MaxItems:
				msgs = append(msgs, "items must be at most "+strconv.Itoa(validate.MaxItems))
			default:
				count = n
			}
		}

		if len(msgs) > 0 {
			response.ValidationFailed(w, msgs)
			return
		}

		response.JSON(w, estimateResponse{
			Style:          style,
			Resolution:     res,
			ItemCount:      count,
			BaseCost:       pricing.BaseCost(res),
			StyleSurcharge: pricing.StyleSurcharge(style),
			ItemsCost:      count / pricing.ItemsPerCredit,
			Cost:           pricing.EstimateCost(style, res, count),
		})
	}
}
