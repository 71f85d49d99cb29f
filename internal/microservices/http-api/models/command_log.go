package models

import "time"

// CommandLog is one command a panel, REST client or MQTT peer sent to the relay
type CommandLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"index" json:"session_id,omitempty"`
	Source    string    `gorm:"not null" json:"source"` // ws, rest, mqtt, tcp
	Raw       string    `gorm:"not null" json:"raw"`
	Topic     string    `json:"topic"`
	Accepted  bool      `gorm:"not null" json:"accepted"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

func (CommandLog) TableName() string {
	return "command_logs"
}
