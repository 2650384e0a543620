package notify

import (
	"fmt"
	"regexp"
	"strings"

	"pumpbridge/internal/models"
)

const (
	subjectMaxLength = 128

	TagAlarm    = "alarm"
	TagReminder = "reminder"
)

var (
	subjectClean = regexp.MustCompile(`[^-a-zA-Z0-9\s.,!?@#$%)(+|_/&]`)
	textClean    = regexp.MustCompile(`['"<;:%&]`)
)

// CleanSubject strips characters outside the subject allow-list.
func CleanSubject(s string) string {
	s = strings.TrimSpace(subjectClean.ReplaceAllString(s, ""))
	if len(s) > subjectMaxLength {
		s = s[:subjectMaxLength]
	}
	return s
}

// CleanText strips quoting and markup characters from names embedded in a body.
func CleanText(s string) string {
	return textClean.ReplaceAllString(s, "")
}

// AlarmContent is what an alarm notification says.
type AlarmContent struct {
	DeviceID   string
	DeviceName string
	GroupName  string
	AlarmID    int
	SiteURL    string
}

// AlarmMessage builds the alarm notice for one recipient.
func AlarmMessage(rc *models.Recipient, c AlarmContent) Message {
	deviceName := CleanSubject(displayName(c.DeviceID, c.DeviceName))
	alarmName := CleanText(models.AlarmName(c.AlarmID))
	groupName := CleanText(c.GroupName)

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", CleanText(rc.Name))
	fmt.Fprintf(&b, "The pump %s in group %s reported an alarm: %s.\n\n", deviceName, groupName, alarmName)
	fmt.Fprintf(&b, "Pump details: %s/pumps/%s\n", strings.TrimRight(c.SiteURL, "/"), c.DeviceID)
	fmt.Fprintf(&b, "Notification settings: %s/settings\n", strings.TrimRight(c.SiteURL, "/"))

	return Message{
		To:      rc.Email,
		ToName:  rc.Name,
		Subject: CleanSubject("Alarm on your pump - " + deviceName),
		Text:    b.String(),
		Tag:     TagAlarm,
	}
}

// ReminderMessage builds a maintenance reminder for its owner.
func ReminderMessage(rc *models.Recipient, rm *models.Reminder, deviceName, siteURL string) Message {
	name := CleanSubject(displayName(rm.DeviceID, deviceName))

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", CleanText(rc.Name))
	fmt.Fprintf(&b, "Reminder for pump %s: %s\n", name, CleanSubject(rm.Title))
	if rm.Message != "" {
		fmt.Fprintf(&b, "\n%s\n", CleanText(rm.Message))
	}
	period := rm.PeriodMonths
	if period < 1 {
		period = 1
	}
	fmt.Fprintf(&b, "\nThis reminder repeats every %d month(s). Manage reminders: %s/settings\n",
		period, strings.TrimRight(siteURL, "/"))

	return Message{
		To:      rc.Email,
		ToName:  rc.Name,
		Subject: CleanSubject("Maintenance reminder about your pump - " + name),
		Text:    b.String(),
		Tag:     TagReminder,
	}
}

func displayName(deviceID, name string) string {
	if strings.TrimSpace(name) == "" {
		return deviceID
	}
	return name
}
