package export

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"

	"github.com/nyaruka/eventsink/core/models"
	"github.com/nyaruka/eventsink/ledger"
	"github.com/nyaruka/eventsink/sink"
)

// Result is the outcome of an export
type Result struct {
	Written    int // files written
	Duplicates int // rows skipped because they were in the ledger
	Existing   int // rows skipped because their file already exists
	Partitions int // distinct partitions written to
}

// Exporter writes rows to a sink as one parquet file per event, partitioned by date and event type
type Exporter struct {
	sink sink.Sink
}

// NewExporter creates a new exporter which writes to the passed in sink
func NewExporter(s sink.Sink) *Exporter {
	return &Exporter{sink: s}
}

// Key returns the sink key of the file for the passed in row
func Key(r *models.Row) string {
	return fmt.Sprintf("date=%s/event_type=%s/%s.parquet", url.PathEscape(r.Date), url.PathEscape(r.Type), url.PathEscape(string(r.UUID)))
}

// Export writes every row whose UUID isn't in excluded. Files are written partition by partition and
// the export stops at the first sink error, in which case files already written remain in the sink
// and the returned result counts them.
func (e *Exporter) Export(ctx context.Context, rows []*models.Row, excluded ledger.Set) (*Result, error) {
	result := &Result{}
	partitions := make(map[models.PartitionKey][]*models.Row)

	for _, r := range rows {
		if excluded.Contains(r.UUID) {
			result.Duplicates++
			continue
		}
		partitions[r.Partition()] = append(partitions[r.Partition()], r)
	}

	keys := make([]models.PartitionKey, 0, len(partitions))
	for k := range partitions {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b models.PartitionKey) int {
		return cmp.Or(cmp.Compare(a.Date, b.Date), cmp.Compare(a.Type, b.Type))
	})

	for _, pk := range keys {
		written, existing, err := e.exportPartition(ctx, partitions[pk])
		result.Written += written
		result.Existing += existing
		if written > 0 {
			result.Partitions++
		}
		if err != nil {
			return result, fmt.Errorf("error exporting partition %s: %w", pk, err)
		}

		slog.Debug("partition exported", "comp", "exporter", "partition", pk.String(), "written", written, "existing", existing)
	}

	return result, nil
}

func (e *Exporter) exportPartition(ctx context.Context, rows []*models.Row) (int, int, error) {
	written, existing := 0, 0
	buf := &bytes.Buffer{}

	for _, r := range rows {
		buf.Reset()
		if err := Encode(buf, r); err != nil {
			return written, existing, fmt.Errorf("error encoding event %s: %w", r.UUID, err)
		}

		created, err := e.sink.PutIfAbsent(ctx, Key(r), ContentType, buf.Bytes())
		if err != nil {
			return written, existing, err
		}
		if created {
			written++
		} else {
			existing++
		}
	}
	return written, existing, nil
}
