package domain

import "time"

// AuditLog records one proxied HTTP request.
type AuditLog struct {
	ID         string    `json:"id"          db:"id"`
	RequestID  string    `json:"request_id"  db:"request_id"`
	Method     string    `json:"method"      db:"method"`
	Path       string    `json:"path"        db:"path"`
	Status     int       `json:"status"      db:"status"`
	DurationMs int64     `json:"duration_ms" db:"duration_ms"`
	IP         string    `json:"ip"          db:"ip"`
	UserAgent  string    `json:"user_agent"  db:"user_agent"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}
