// Package pricing computes the credit cost of staging jobs.
// All functions are pure and safe for concurrent use.
package pricing

import "github.com/kiranshivaraju/stager/pkg/models"

// ItemsPerCredit is how many placed items add one credit to a job's cost.
const ItemsPerCredit = 3

var baseCosts = map[models.Resolution]int{
	models.Resolution1K: 5,
	models.Resolution2K: 10,
	models.Resolution4K: 20,
}

var styleSurcharges = map[models.StyleID]int{
	models.StyleNordic:        0,
	models.StyleMinimal:       0,
	models.StyleIndustrial:    2,
	models.StyleMediterranean: 1,
	models.StyleClassic:       3,
}

// EstimateCost returns BaseCost(res) + StyleSurcharge(style) + itemCount/3.
// Unknown resolutions and styles contribute nothing; negative counts are treated as zero.
func EstimateCost(style models.StyleID, res models.Resolution, itemCount int) int {
	if itemCount < 0 {
		itemCount = 0
	}
	return BaseCost(res) + StyleSurcharge(style) + itemCount/ItemsPerCredit
}

// BaseCost returns the credit cost of rendering at res.
func BaseCost(res models.Resolution) int {
	return baseCosts[res]
}

// StyleSurcharge returns the extra credits charged for style.
func StyleSurcharge(style models.StyleID) int {
	return styleSurcharges[style]
}

// CostTable returns a fresh copy of the per-resolution price table.
func CostTable() map[models.Resolution]int {
	out := make(map[models.Resolution]int, len(baseCosts))
	for r, c := range baseCosts {
		out[r] = c
	}
	return out
}
