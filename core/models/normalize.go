package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/buger/jsonparser"
)

// bounds of timestamps we accept, years 1 to 9999
const (
	minCreatedAt = -62135596800
	maxCreatedAt = 253402300799
)

// Defect describes a record which couldn't be normalized and so won't be exported
type Defect struct {
	Index  int
	UUID   EventUUID
	Reason string
}

func (d *Defect) Error() string {
	if d.UUID != NilEventUUID {
		return fmt.Sprintf("event #%d (%s): %s", d.Index, d.UUID, d.Reason)
	}
	return fmt.Sprintf("event #%d: %s", d.Index, d.Reason)
}

// Outcome is the result of normalizing a single record, only one of Row or Defect is set
type Outcome struct {
	Row    *Row
	Defect *Defect
}

// UUID returns the event UUID of this outcome if one could be read
func (o *Outcome) UUID() EventUUID {
	if o.Row != nil {
		return o.Row.UUID
	}
	return o.Defect.UUID
}

// Normalize parses the passed in records into rows. A record which can't be parsed doesn't affect the
// others, it is returned as a defect in the same position.
func Normalize(records []Record) []*Outcome {
	outcomes := make([]*Outcome, len(records))
	for i, record := range records {
		row, err := NormalizeRecord(record)
		if err != nil {
			outcomes[i] = &Outcome{Defect: &Defect{Index: i, UUID: readUUID(record), Reason: err.Error()}}
		} else {
			outcomes[i] = &Outcome{Row: row}
		}
	}
	return outcomes
}

// NormalizeRecord parses a single record into a row
func NormalizeRecord(record Record) (*Row, error) {
	data := []byte(record)

	_, dataType, _, err := jsonparser.Get(data)
	if err != nil || dataType != jsonparser.Object {
		return nil, errors.New("event is not a JSON object")
	}

	uuid := readUUID(record)
	if uuid == NilEventUUID {
		return nil, errors.New("missing event_uuid")
	}

	name, err := jsonparser.GetString(data, "event_name")
	if err != nil {
		return nil, errors.New("missing event_name")
	}

	createdAt, err := readCreatedAt(data)
	if err != nil {
		return nil, err
	}

	payload, err := readPayload(data)
	if err != nil {
		return nil, err
	}

	createdOn := unixToTime(createdAt)
	eventType, eventSubtype := SplitEventName(name)

	return &Row{
		UUID:      uuid,
		Name:      name,
		Type:      eventType,
		Subtype:   eventSubtype,
		CreatedAt: createdAt,
		CreatedOn: createdOn,
		Date:      createdOn.Format(DateLayout),
		Payload:   payload,
	}, nil
}

func readUUID(record Record) EventUUID {
	uuid, err := jsonparser.GetString(record, "event_uuid")
	if err != nil {
		return NilEventUUID
	}
	return EventUUID(uuid)
}

func readCreatedAt(data []byte) (float64, error) {
	value, dataType, _, err := jsonparser.Get(data, "created_at")
	if err != nil {
		return 0, errors.New("missing created_at")
	}

	var createdAt float64

	switch dataType {
	case jsonparser.Number:
		createdAt, err = jsonparser.ParseFloat(value)
	case jsonparser.String:
		createdAt, err = strconv.ParseFloat(string(value), 64)
	default:
		err = fmt.Errorf("unexpected %s", dataType)
	}

	if err != nil {
		return 0, fmt.Errorf("created_at is not a unix timestamp: %s", value)
	}
	if math.IsNaN(createdAt) || createdAt < minCreatedAt || createdAt > maxCreatedAt {
		return 0, fmt.Errorf("created_at is out of range: %s", value)
	}
	return createdAt, nil
}

// payloads are exported as compact JSON text
func readPayload(data []byte) (string, error) {
	value, dataType, _, err := jsonparser.Get(data, "payload")
	if dataType == jsonparser.NotExist {
		return "null", nil
	}
	if err != nil {
		return "", fmt.Errorf("unable to read payload: %w", err)
	}

	// strings come back without their quotes
	if dataType == jsonparser.String {
		value = append(append([]byte{'"'}, value...), '"')
	}

	compact := &bytes.Buffer{}
	if err := json.Compact(compact, value); err != nil {
		return "", fmt.Errorf("payload is not valid JSON: %w", err)
	}
	return compact.String(), nil
}

func unixToTime(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	nanos := int64(math.Round(frac * 1e9))
	return time.Unix(int64(whole), nanos).UTC()
}
