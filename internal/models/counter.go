package models

type Counter struct {
	CounterID         string  `json:"counter_id"`
	Name              string  `json:"name"`
	Category          string  `json:"category"`
	StaffID           *string `json:"staff_id,omitempty"`
	StaffName         string  `json:"staff_name,omitempty"`
	Status            string  `json:"status"`
	CurrentToken      *string `json:"current_token,omitempty"`
	TokensServedToday int     `json:"tokens_served_today"`
	AvgServiceSeconds float64 `json:"avg_service_seconds"`
}

const (
	CounterOffline = "offline"
	CounterActive  = "active"
	CounterBreak   = "break"
)

func ValidCounterStatus(status string) bool {
	switch status {
	case CounterOffline, CounterActive, CounterBreak:
		return true
	}
	return false
}
