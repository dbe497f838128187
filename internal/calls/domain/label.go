package calls

import "strings"

// RoomSeparator joins room segments that were split on dashes.
const RoomSeparator = " - "

// BranchAlias maps a branch key to its display label.
type BranchAlias struct {
	Key   string
	Label string
}

// BranchTable is an ordered alias table. The first match wins.
type BranchTable []BranchAlias

// Resolve matches candidate against keys and labels, in order.
func (t BranchTable) Resolve(candidate string) (string, bool) {
	want := NormalizeForCompare(candidate)
	if want == "" {
		return "", false
	}
	for _, alias := range t {
		if NormalizeForCompare(alias.Key) == want || (alias.Label != "" && NormalizeForCompare(alias.Label) == want) {
			return alias.ResolvedName(), true
		}
	}
	return "", false
}

// Label returns the display label registered for key, if any.
func (t BranchTable) Label(key string) (string, bool) {
	for _, alias := range t {
		if alias.Key == key {
			return alias.ResolvedName(), true
		}
	}
	return "", false
}

// ResolvedName is the label, or the key when no label is set.
func (a BranchAlias) ResolvedName() string {
	if a.Label != "" {
		return a.Label
	}
	return a.Key
}

// Label is the result of parsing a raw room label.
type Label struct {
	Room   string
	Branch string
}

// ParseLabel splits "branch - room" labels. Labels without a branch part,
// or whose branch part matches no alias, resolve to fallback.
func ParseLabel(raw, fallback string, table BranchTable) Label {
	trimmed := strings.TrimSpace(raw)
	segments := splitDashes(trimmed)
	if len(segments) < 2 {
		return Label{Room: trimmed, Branch: fallback}
	}
	label := Label{
		Room:   strings.Join(segments[1:], RoomSeparator),
		Branch: fallback,
	}
	if branch, ok := table.Resolve(segments[0]); ok {
		label.Branch = branch
	}
	return label
}

func splitDashes(text string) []string {
	fields := strings.FieldsFunc(text, isDash)
	segments := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field != "" {
			segments = append(segments, field)
		}
	}
	return segments
}

func isDash(r rune) bool {
	return r == '-' || r == '–' || r == '—'
}

// Parser turns raw panel items into observed events.
type Parser struct {
	Table       BranchTable
	Fallback    string
	Annotations Annotations
}

// Observe parses one raw item. Items without a patient are rejected.
func (p Parser) Observe(item RawItem) (ObservedEvent, error) {
	patient := p.Annotations.Strip(item.Patient)
	if patient == "" {
		return ObservedEvent{}, ErrEmptyPatient
	}
	roomLabel := p.Annotations.Strip(item.RoomLabel)
	label := ParseLabel(roomLabel, p.Fallback, p.Table)
	return ObservedEvent{
		Patient:      patient,
		Provider:     strings.TrimSpace(item.Provider),
		RoomLabelRaw: item.RoomLabel,
		Room:         label.Room,
		Branch:       label.Branch,
	}, nil
}

// Snapshot parses a batch of raw items, skipping rejected ones.
func (p Parser) Snapshot(items []RawItem) Snapshot {
	snapshot := make(Snapshot, 0, len(items))
	for _, item := range items {
		event, err := p.Observe(item)
		if err != nil {
			continue
		}
		snapshot = append(snapshot, event)
	}
	return snapshot
}
