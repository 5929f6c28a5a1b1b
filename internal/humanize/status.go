package humanize

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// StatusMessage explains what a reminder status means for the user. Active
// reminders need no explanation and yield "".
func StatusMessage(status string, t Translator) string {
	switch status {
	case "DRAFT", "PAUSED", "ENDED":
		return t.T("status."+strings.ToLower(status), nil)
	}
	return ""
}

// EditWarning is shown before editing an ended reminder, whose expired
// schedules are dropped on save.
func EditWarning(status string, t Translator) string {
	if status == "ENDED" {
		return t.T("edit.endedWarning", nil)
	}
	return ""
}

// StatusLabel is the short badge text for a status.
func StatusLabel(status string, t Translator) string {
	return t.T("statusLabel."+status, nil)
}

// TimezoneOption is one entry of a timezone picker.
type TimezoneOption struct {
	Value string
	Label string
}

var commonZones = []string{
	"UTC",
	"Africa/Cairo", "Africa/Casablanca", "Africa/Johannesburg", "Africa/Lagos", "Africa/Nairobi",
	"America/Anchorage", "America/Argentina/Buenos_Aires", "America/Bogota", "America/Chicago",
	"America/Denver", "America/Los_Angeles", "America/Mexico_City", "America/New_York",
	"America/Sao_Paulo", "America/Toronto", "America/Vancouver",
	"Asia/Almaty", "Asia/Bangkok", "Asia/Dubai", "Asia/Hong_Kong", "Asia/Jakarta", "Asia/Jerusalem",
	"Asia/Kathmandu", "Asia/Kolkata", "Asia/Seoul", "Asia/Shanghai", "Asia/Singapore", "Asia/Tashkent",
	"Asia/Tbilisi", "Asia/Tehran", "Asia/Tokyo", "Asia/Vladivostok", "Asia/Yekaterinburg",
	"Atlantic/Reykjavik",
	"Australia/Adelaide", "Australia/Brisbane", "Australia/Perth", "Australia/Sydney",
	"Europe/Amsterdam", "Europe/Athens", "Europe/Berlin", "Europe/Dublin", "Europe/Helsinki",
	"Europe/Istanbul", "Europe/Kyiv", "Europe/Lisbon", "Europe/London", "Europe/Madrid",
	"Europe/Minsk", "Europe/Moscow", "Europe/Paris", "Europe/Prague", "Europe/Rome",
	"Europe/Samara", "Europe/Stockholm", "Europe/Warsaw", "Europe/Zurich",
	"Pacific/Auckland", "Pacific/Honolulu",
}

// TimezoneLabel renders "City (UTC+5:30)" using the offset in effect at at.
// Unknown zones render as the raw name.
func TimezoneLabel(tz string, at time.Time) string {
	if tz == "" || tz == "UTC" {
		return "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return tz
	}
	city := tz[strings.LastIndexByte(tz, '/')+1:]
	return fmt.Sprintf("%s (%s)", strings.ReplaceAll(city, "_", " "), utcOffset(at.In(loc)))
}

func utcOffset(t time.Time) string {
	_, secs := t.Zone()
	sign := "+"
	if secs < 0 {
		sign, secs = "-", -secs
	}
	h, m := secs/3600, secs%3600/60
	if m == 0 {
		return fmt.Sprintf("UTC%s%d", sign, h)
	}
	return fmt.Sprintf("UTC%s%d:%02d", sign, h, m)
}

// TimezoneOptions lists the common zones sorted by label. Zones missing from
// the host's tz database are left out.
func TimezoneOptions(at time.Time) []TimezoneOption {
	out := make([]TimezoneOption, 0, len(commonZones))
	for _, tz := range commonZones {
		if _, err := time.LoadLocation(tz); err != nil {
			continue
		}
		out = append(out, TimezoneOption{Value: tz, Label: TimezoneLabel(tz, at)})
	}
	slices.SortFunc(out, func(a, b TimezoneOption) int { return strings.Compare(a.Label, b.Label) })
	return out
}
