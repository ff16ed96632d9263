package wire

import "fmt"

// EncodeRecords lays out records as RecordSize bytes each, in order,
// exactly the layout the engine registers for the host to read back via
// READ_RESULT and the host registers for the engine to read via
// READ_RESULT's mirror image, the error table (spec.md §4.2: "expose to the
// host by remote read (base address + key + count)").
func EncodeRecords(records []Record) ([]byte, error) {
	buf := make([]byte, 0, len(records)*RecordSize)
	for i, r := range records {
		rem := RecordSize
		out, _, err := r.Marshal(make([]byte, 0, RecordSize), rem)
		if err != nil {
			return nil, fmt.Errorf("marshaling records[%d]: %w", i, err)
		}
		buf = append(buf, out...)
	}
	return buf, nil
}

// DecodeRecords parses a buffer read back from a remote region into count
// Records of RecordSize bytes each.
func DecodeRecords(buf []byte, count int) ([]Record, error) {
	need := count * RecordSize
	if len(buf) < need {
		return nil, fmt.Errorf("wire: record buffer is %d bytes, need %d for %d records", len(buf), need, count)
	}
	records := make([]Record, count)
	for i := range records {
		off := i * RecordSize
		_, _, err := records[i].Unmarshal(buf[off:off+RecordSize], RecordSize)
		if err != nil {
			return nil, fmt.Errorf("unmarshaling records[%d]: %w", i, err)
		}
	}
	return records, nil
}
