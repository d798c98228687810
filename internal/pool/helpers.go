package pool

import "github.com/geoflow/geoflow/internal/model"

// AppendRecord extends the batch by one record and returns the slot for
// filling. Slots freed by a previous Reset are reused, so the record's field
// map and geometry buffer keep their capacity across batches.
func AppendRecord(b *model.Batch) *model.RawRecord {
	n := len(b.Records)
	if n < cap(b.Records) {
		b.Records = b.Records[:n+1]
	} else {
		b.Records = append(b.Records, model.RawRecord{})
	}
	return &b.Records[n]
}
