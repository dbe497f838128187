package calls

import "time"

// DateLayout is the calendar-day layout used for call dates.
const DateLayout = "2006-01-02"

// RawItem is one card as read from the panel, before any parsing.
type RawItem struct {
	Patient   string
	Provider  string
	RoomLabel string
}

// ObservedEvent is a parsed panel item for one poll cycle.
type ObservedEvent struct {
	// Patient and Provider are annotation-stripped and trimmed.
	Patient  string
	Provider string
	// RoomLabelRaw is the label as read from the panel.
	RoomLabelRaw string
	Room         string
	Branch       string
}

// Snapshot is the set of events seen in one poll cycle, in panel order.
type Snapshot []ObservedEvent

// CallKey identifies a call within a day and branch.
// PatientKey and RoomKey are slugs, the same ones BuildID uses.
type CallKey struct {
	Date       string
	Branch     string
	PatientKey string
	RoomKey    string
}

// CallRecord is the persisted form of a call.
type CallRecord struct {
	ID           string
	Patient      string
	PatientKey   string
	Room         string
	RoomKey      string
	Branch       string
	Date         string
	RegisteredAt time.Time
	Caller       string
}

// Key returns the lookup key of the record.
func (r CallRecord) Key() CallKey {
	return CallKey{Date: r.Date, Branch: r.Branch, PatientKey: r.PatientKey, RoomKey: r.RoomKey}
}

// CallUpdate carries the mutable fields of a record.
// Nil fields are left untouched.
type CallUpdate struct {
	Patient      *string
	Room         *string
	Caller       *string
	RegisteredAt time.Time
}

// Notification is the outward announcement of a reconciled call.
type Notification struct {
	TopicKey    string
	PatientName string
	Room        string
	RoomShort   string
	ID          string
}

// NewCallRecord builds a record for a first observation of a call.
func NewCallRecord(patient, room, branch, caller string, now time.Time) CallRecord {
	date := now.Format(DateLayout)
	return CallRecord{
		ID:           BuildID(patient, room, branch, now),
		Patient:      patient,
		PatientKey:   Slugify(patient),
		Room:         room,
		RoomKey:      Slugify(room),
		Branch:       branch,
		Date:         date,
		RegisteredAt: now,
		Caller:       caller,
	}
}

// NotificationFor builds the announcement for a stored record.
func NotificationFor(record CallRecord) Notification {
	return Notification{
		TopicKey:    record.Branch,
		PatientName: record.Patient,
		Room:        record.Room,
		RoomShort:   record.Room,
		ID:          record.ID,
	}
}
