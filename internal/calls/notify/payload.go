package notify

import (
	"encoding/json"

	calls "callwatch/internal/calls/domain"
)

// DefaultTopicSuffix is appended to the branch label to form the call topic.
const DefaultTopicSuffix = "/painel/calls"

// CallMessage is the wire form consumed by the panel displays.
type CallMessage struct {
	Name      string  `json:"name"`
	Room      string  `json:"room"`
	RoomShort string  `json:"roomShort"`
	PostCall  *string `json:"postCall"`
	MsgID     string  `json:"msgId"`
	Encoding  string  `json:"encoding"`
}

// MessageFor builds the wire message for a notification.
func MessageFor(n calls.Notification) CallMessage {
	return CallMessage{
		Name:      n.PatientName,
		Room:      n.Room,
		RoomShort: n.RoomShort,
		MsgID:     n.ID,
		Encoding:  "utf-8",
	}
}

// Encode serializes a notification for the wire.
func Encode(n calls.Notification) ([]byte, error) {
	return json.Marshal(MessageFor(n))
}

// TopicResolver maps a branch to its call topic.
type TopicResolver struct {
	table  calls.BranchTable
	suffix string
}

// NewTopicResolver constructs a resolver. An empty suffix uses DefaultTopicSuffix.
func NewTopicResolver(table calls.BranchTable, suffix string) TopicResolver {
	if suffix == "" {
		suffix = DefaultTopicSuffix
	}
	return TopicResolver{table: table, suffix: suffix}
}

// Topic returns "<branch label><suffix>"; unknown branches use the branch itself.
func (r TopicResolver) Topic(branch string) string {
	name := branch
	if label, ok := r.table.Label(branch); ok {
		name = label
	}
	return name + r.suffix
}
