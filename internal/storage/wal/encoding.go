package wal

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

// Snapshot record encoding (protobuf wire format, one snapshot per record):
//
//	1  station_id        string
//	2  captured_at_ms    sint64
//	3  station_code      string
//	4  last_reported_ms  sint64 (omitted when unknown)
//	5  bikes_available   sint32
//	6  bikes_disabled    sint32
//	7  docks_available   sint32
//	8  docks_disabled    sint32
//	9  capacity          sint32
//	10 is_installed      bool
//	11 is_renting        bool
//	12 is_returning      bool
//
// Unknown fields are skipped on decode so newer writers stay readable.
const (
	fieldStationID protowire.Number = iota + 1
	fieldCapturedAt
	fieldStationCode
	fieldLastReported
	fieldBikesAvailable
	fieldBikesDisabled
	fieldDocksAvailable
	fieldDocksDisabled
	fieldCapacity
	fieldIsInstalled
	fieldIsRenting
	fieldIsReturning
)

// encodeSnapshot appends the wire form of s to buf.
func encodeSnapshot(buf []byte, s *types.Snapshot) []byte {
	buf = appendString(buf, fieldStationID, s.StationID)
	buf = appendSint(buf, fieldCapturedAt, s.CapturedAt.UnixMilli())
	if s.StationCode != "" {
		buf = appendString(buf, fieldStationCode, s.StationCode)
	}
	if !s.LastReported.IsZero() {
		buf = appendSint(buf, fieldLastReported, s.LastReported.UnixMilli())
	}
	buf = appendSint(buf, fieldBikesAvailable, int64(s.BikesAvailable))
	buf = appendSint(buf, fieldBikesDisabled, int64(s.BikesDisabled))
	buf = appendSint(buf, fieldDocksAvailable, int64(s.DocksAvailable))
	buf = appendSint(buf, fieldDocksDisabled, int64(s.DocksDisabled))
	buf = appendSint(buf, fieldCapacity, int64(s.Capacity))
	buf = appendBool(buf, fieldIsInstalled, s.IsInstalled)
	buf = appendBool(buf, fieldIsRenting, s.IsRenting)
	buf = appendBool(buf, fieldIsReturning, s.IsReturning)
	return buf
}

// decodeSnapshot parses one record payload.
func decodeSnapshot(data []byte) (types.Snapshot, error) {
	var s types.Snapshot
	var haveID, haveTime bool

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return s, fmt.Errorf("tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case typ == protowire.BytesType && (num == fieldStationID || num == fieldStationCode):
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return s, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			if num == fieldStationID {
				s.StationID = v
				haveID = true
			} else {
				s.StationCode = v
			}
			data = data[n:]

		case typ == protowire.VarintType && num >= fieldCapturedAt && num <= fieldIsReturning:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return s, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			setVarint(&s, num, v)
			if num == fieldCapturedAt {
				haveTime = true
			}
			data = data[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return s, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if !haveID || !haveTime {
		return s, fmt.Errorf("record missing identity fields")
	}
	return s, nil
}

func setVarint(s *types.Snapshot, num protowire.Number, v uint64) {
	switch num {
	case fieldCapturedAt:
		s.CapturedAt = time.UnixMilli(protowire.DecodeZigZag(v)).UTC()
	case fieldLastReported:
		s.LastReported = time.UnixMilli(protowire.DecodeZigZag(v)).UTC()
	case fieldBikesAvailable:
		s.BikesAvailable = int32(protowire.DecodeZigZag(v))
	case fieldBikesDisabled:
		s.BikesDisabled = int32(protowire.DecodeZigZag(v))
	case fieldDocksAvailable:
		s.DocksAvailable = int32(protowire.DecodeZigZag(v))
	case fieldDocksDisabled:
		s.DocksDisabled = int32(protowire.DecodeZigZag(v))
	case fieldCapacity:
		s.Capacity = int32(protowire.DecodeZigZag(v))
	case fieldIsInstalled:
		s.IsInstalled = protowire.DecodeBool(v)
	case fieldIsRenting:
		s.IsRenting = protowire.DecodeBool(v)
	case fieldIsReturning:
		s.IsReturning = protowire.DecodeBool(v)
	}
}

func appendString(buf []byte, num protowire.Number, v string) []byte {
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendString(buf, v)
}

func appendSint(buf []byte, num protowire.Number, v int64) []byte {
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, protowire.EncodeZigZag(v))
}

func appendBool(buf []byte, num protowire.Number, v bool) []byte {
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, protowire.EncodeBool(v))
}
