package models

import "time"

type LogOrigin int

const (
	OriginUnknown LogOrigin = 0
	OriginPump    LogOrigin = 1
	OriginServer  LogOrigin = 2
	OriginWeb     LogOrigin = 3
	OriginMQTT    LogOrigin = 4
)

type LogEvent int

const (
	EventUnknown LogEvent = 0
	EventCommand LogEvent = 3
	EventDebug   LogEvent = 4
	EventStatus  LogEvent = 5
	EventEmail   LogEvent = 6
)

type LogTarget int

const (
	TargetUnknown    LogTarget = 0
	TargetPump       LogTarget = 1
	TargetUser       LogTarget = 2
	TargetDebug      LogTarget = 4
	TargetNotif      LogTarget = 5
	TargetAlarmAlert LogTarget = 6
)

type LogAction int

const (
	ActionUnknown LogAction = 0
	ActionCreate  LogAction = 1
	ActionUpdate  LogAction = 3
	ActionDelete  LogAction = 4
	ActionNA      LogAction = 6
	ActionSend    LogAction = 7
)

type LogStatus int

const (
	StatusFail    LogStatus = 0
	StatusSuccess LogStatus = 1
	StatusUnknown LogStatus = 2
)

// EventLogEntry is one row of the operational audit log.
type EventLogEntry struct {
	ID         int64
	Timestamp  time.Time
	OriginType LogOrigin
	OriginID   string
	EventType  LogEvent
	Message    string
	TargetType LogTarget
	TargetID   string
	Attribute  string
	OldValue   string
	NewValue   string
	Success    LogStatus
}
