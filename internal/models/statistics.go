package models

// DailyStatistics is one aggregate record per calendar day. Averages are
// maintained incrementally; only reconciliation rebuilds them by rescan.
type DailyStatistics struct {
	Date              string   `json:"date"`
	TotalTokens       int      `json:"total_tokens"`
	TokensServed      int      `json:"tokens_served"`
	TokensCancelled   int      `json:"tokens_cancelled"`
	AvgWaitSeconds    float64  `json:"avg_wait_seconds"`
	AvgServiceSeconds float64  `json:"avg_service_seconds"`
	Satisfaction      float64  `json:"satisfaction"`
	PeakHours         []string `json:"peak_hours"`
}
