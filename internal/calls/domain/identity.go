package calls

import (
	"strings"
	"time"
)

const (
	idPrefix    = "PANEL"
	idSeparator = ":"
)

// BuildID returns the deterministic identifier of a call on a given day.
// The separator cannot appear inside a slug.
func BuildID(patient, room, branch string, date time.Time) string {
	return strings.Join([]string{
		idPrefix,
		date.Format(DateLayout),
		Slugify(branch),
		Slugify(patient),
		Slugify(room),
	}, idSeparator)
}

// KeyFor returns the store lookup key for a call. It is built from the same
// slugs as BuildID so that a lookup hit and an ID match always agree.
func KeyFor(patient, room, branch string, date time.Time) CallKey {
	return CallKey{
		Date:       date.Format(DateLayout),
		Branch:     branch,
		PatientKey: Slugify(patient),
		RoomKey:    Slugify(room),
	}
}
