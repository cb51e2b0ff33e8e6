package domain

import "time"

type ProjectID string
type OwnerEmail string
type TaskID string

// GeneralProject is the history key for messages sent with no project selected.
const GeneralProject ProjectID = "general"

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// RiskTier is derived from a deadline and never stored.
type RiskTier string

const (
	RiskGreen RiskTier = "green"
	RiskAmber RiskTier = "amber"
	RiskRed   RiskTier = "red"
)

type Timestamp = time.Time

// TimestampLayout is ISO-8601 with milliseconds, e.g. 2025-01-10T00:00:00.000Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// FormatDeadline renders an optional deadline, nil stays nil.
func FormatDeadline(d *time.Time) *string {
	if d == nil {
		return nil
	}
	s := FormatTimestamp(*d)
	return &s
}

// NormalizeProject maps the empty project id onto GeneralProject.
func NormalizeProject(id ProjectID) ProjectID {
	if id == "" {
		return GeneralProject
	}
	return id
}
