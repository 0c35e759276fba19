package models

import "time"

type Token struct {
	TokenID       string     `json:"token_id"`
	TokenNumber   string     `json:"token_number"`
	CustomerID    string     `json:"customer_id,omitempty"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	Category      string     `json:"category"`
	Status        string     `json:"status"`
	Priority      int        `json:"priority"`
	CounterID     *string    `json:"counter_id,omitempty"`
	EstimatedWait int        `json:"estimated_wait_seconds"`
	CreatedAt     time.Time  `json:"created_at"`
	CalledAt      *time.Time `json:"called_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Rating        *int       `json:"rating,omitempty"`
	Feedback      string     `json:"feedback,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusServing   = "serving"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

func ValidStatus(status string) bool {
	switch status {
	case StatusWaiting, StatusServing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}
