package domain

import "time"

// UsageAction is the kind of toggle recorded in the usage history
type UsageAction string

const (
	ActionEnable    UsageAction = "enable"
	ActionDisable   UsageAction = "disable"
	ActionUninstall UsageAction = "uninstall"
)

// UsageEvent is one row of the usage history
type UsageEvent struct {
	ID        int64       `json:"id"`
	Package   string      `json:"package"`
	Action    UsageAction `json:"action"`
	Strategy  Strategy    `json:"strategy"`
	Outcome   Outcome     `json:"outcome"`
	Written   int         `json:"written"`
	Failed    int         `json:"failed"`
	CreatedAt time.Time   `json:"created_at"`
}

// UsageSummary aggregates the history of one package
type UsageSummary struct {
	Package  string    `json:"package"`
	Enables  int       `json:"enables"`
	Disables int       `json:"disables"`
	LastUsed time.Time `json:"last_used"`
}
