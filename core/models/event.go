package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventUUID is the caller supplied identifier of an event, it is our only deduplication key
type EventUUID string

// NilEventUUID is our nil value for event UUIDs
const NilEventUUID = EventUUID("")

// DateLayout is the layout of the date partition value
const DateLayout = "2006-01-02"

// Record is the raw JSON of a single event as delivered to us in a batch
type Record json.RawMessage

// MarshalJSON returns the raw bytes of this record
func (r Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON keeps a copy of the raw bytes of this record
func (r *Record) UnmarshalJSON(data []byte) error {
	*r = append((*r)[0:0], data...)
	return nil
}

// Row is a normalized event, ready to be exported
type Row struct {
	UUID      EventUUID
	Name      string
	Type      string
	Subtype   string
	CreatedAt float64
	CreatedOn time.Time
	Date      string
	Payload   string
}

// PartitionKey identifies the partition a row is exported into
type PartitionKey struct {
	Date string
	Type string
}

// Partition returns the partition this row belongs to
func (r *Row) Partition() PartitionKey {
	return PartitionKey{Date: r.Date, Type: r.Type}
}

func (k PartitionKey) String() string {
	return fmt.Sprintf("date=%s/event_type=%s", k.Date, k.Type)
}

// SplitEventName splits an event name like lesson:started into its type and subtype. Only the first
// colon is significant, a name without one has an empty subtype.
func SplitEventName(name string) (string, string) {
	eventType, eventSubtype, _ := strings.Cut(name, ":")
	return eventType, eventSubtype
}
