package caldav

// Calendar is a calendar collection on the server.
type Calendar struct {
	Path        string
	DisplayName string
	Description string
	Components  []string // e.g. VEVENT, VTODO
}

// SupportsEvents reports whether reminders can be written to the calendar.
// Servers that do not advertise a component set accept events.
func (c Calendar) SupportsEvents() bool {
	if len(c.Components) == 0 {
		return true
	}
	for _, comp := range c.Components {
		if comp == "VEVENT" {
			return true
		}
	}
	return false
}
