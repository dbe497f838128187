package calls

// SameCall reports whether two events describe the same call.
// Provider text is ignored.
func (e ObservedEvent) SameCall(other ObservedEvent) bool {
	return e.Room == other.Room &&
		e.Branch == other.Branch &&
		NormalizeForCompare(e.Patient) == NormalizeForCompare(other.Patient)
}

// Diff returns the events of current that previous does not contain,
// in current's order.
func Diff(previous, current Snapshot) Snapshot {
	fresh := make(Snapshot, 0, len(current))
	for _, event := range current {
		if !previous.Contains(event) {
			fresh = append(fresh, event)
		}
	}
	return fresh
}

// Contains reports whether the snapshot already holds the same call.
func (s Snapshot) Contains(event ObservedEvent) bool {
	for _, seen := range s {
		if seen.SameCall(event) {
			return true
		}
	}
	return false
}
