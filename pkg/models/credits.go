package models

// Credits is the balance available for staging jobs.
type Credits struct {
	Current           int                `json:"current"`
	Total             int                `json:"total"`
	CostPerResolution map[Resolution]int `json:"cost_per_resolution"`
	Low               bool               `json:"low"`
}
