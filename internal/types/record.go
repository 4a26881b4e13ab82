package types

import (
	"fmt"
	"slices"

	"go.etcd.io/etcd/pkg/v3/pbutil"
	"google.golang.org/protobuf/encoding/protowire"
)

// ReplicaID identifies a cluster member. Zero is reserved for "no replica".
type ReplicaID uint64

const NoReplica ReplicaID = 0

type RecordID uint64

// Record is the unit of replication. Records are never edited once created.
type Record struct {
	ID      RecordID
	Payload []byte
}

const (
	recordFieldID      protowire.Number = 1
	recordFieldPayload protowire.Number = 2

	recordSetFieldRecord protowire.Number = 1
)

func (r Record) Clone() Record {
	return Record{ID: r.ID, Payload: slices.Clone(r.Payload)}
}

func (r *Record) Marshal() ([]byte, error) {
	buf := make([]byte, 0, 2+protowire.SizeVarint(uint64(r.ID))+protowire.SizeBytes(len(r.Payload)))
	buf = protowire.AppendTag(buf, recordFieldID, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.ID))
	buf = protowire.AppendTag(buf, recordFieldPayload, protowire.BytesType)
	buf = protowire.AppendBytes(buf, r.Payload)
	return buf, nil
}

func (r *Record) Unmarshal(data []byte) error {
	*r = Record{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("record tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == recordFieldID && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return fmt.Errorf("record id: %w", protowire.ParseError(m))
			}
			r.ID = RecordID(v)
			data = data[m:]

		case num == recordFieldPayload && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return fmt.Errorf("record payload: %w", protowire.ParseError(m))
			}
			r.Payload = slices.Clone(v)
			data = data[m:]

		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return fmt.Errorf("record field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return nil
}

func EncodeRecord(r Record) []byte {
	return pbutil.MustMarshal(&r)
}

func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if !pbutil.MaybeUnmarshal(&r, data) {
		return Record{}, fmt.Errorf("decode record: malformed %d-byte payload", len(data))
	}
	return r, nil
}

// EncodeRecords encodes a record set as a sequence of length-delimited records.
func EncodeRecords(records []Record) []byte {
	var buf []byte
	for i := range records {
		buf = protowire.AppendTag(buf, recordSetFieldRecord, protowire.BytesType)
		buf = protowire.AppendBytes(buf, EncodeRecord(records[i]))
	}
	return buf
}

func DecodeRecords(data []byte) ([]Record, error) {
	records := make([]Record, 0)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("record set tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num != recordSetFieldRecord || typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("record set field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}

		raw, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return nil, fmt.Errorf("record set entry: %w", protowire.ParseError(m))
		}
		data = data[m:]

		rec, err := DecodeRecord(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
