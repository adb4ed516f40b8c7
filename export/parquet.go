package export

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/nyaruka/eventsink/core/models"
	"github.com/parquet-go/parquet-go"
)

// ContentType is the content type of exported files
const ContentType = "application/vnd.apache.parquet"

// Record is the schema of the exported parquet files
type Record struct {
	EventUUID       string    `parquet:"event_uuid"`
	EventName       string    `parquet:"event_name"`
	EventType       string    `parquet:"event_type"`
	EventSubtype    string    `parquet:"event_subtype"`
	CreatedAt       float64   `parquet:"created_at"`
	CreatedDatetime time.Time `parquet:"created_datetime,timestamp(millisecond)"`
	Date            string    `parquet:"date"`
	Payload         string    `parquet:"payload"`
}

func newRecord(r *models.Row) Record {
	return Record{
		EventUUID:       string(r.UUID),
		EventName:       r.Name,
		EventType:       r.Type,
		EventSubtype:    r.Subtype,
		CreatedAt:       r.CreatedAt,
		CreatedDatetime: r.CreatedOn,
		Date:            r.Date,
		Payload:         r.Payload,
	}
}

// Encode writes the passed in rows as a zstd compressed parquet file
func Encode(w io.Writer, rows ...*models.Row) error {
	records := make([]Record, len(rows))
	for i, r := range rows {
		records[i] = newRecord(r)
	}

	pw := parquet.NewGenericWriter[Record](w, parquet.Compression(&parquet.Zstd))
	if _, err := pw.Write(records); err != nil {
		return fmt.Errorf("error writing parquet rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("error closing parquet writer: %w", err)
	}
	return nil
}

// Decode reads the records of an exported parquet file
func Decode(data []byte) ([]Record, error) {
	return parquet.Read[Record](bytes.NewReader(data), int64(len(data)))
}
