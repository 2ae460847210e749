// Package kvstore holds the bbolt-backed transaction helpers shared by
// store/contents (C5) and store/data (C6): opening a multi-bucket
// database and encoding/decoding the custom binary record format spec §3
// assigns to the "repository" and "statistics" sub-dbs.
//
// Grounded on original_source's description of those two record formats;
// there is no upstream library for this exact tagged-field layout (it
// predates general-purpose schemas like protobuf in the original project),
// so it is hand-rolled the way the original hand-rolled it, on top of
// encoding/binary the same way backend/rpmmd hand-rolls its cpio reader on
// top of encoding/binary.
package kvstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"go.etcd.io/bbolt"
)

// Open opens (creating if necessary) a bbolt database at path with the
// given top-level buckets pre-created, matching the "single database, one
// bucket per logical sub-db" layout both C5 and C6 use.
func Open(path string, buckets ...string) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return fmt.Errorf("kvstore: create bucket %q: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// FieldKind tags the wire type of one Field's value.
type FieldKind uint8

const (
	FieldInt64   FieldKind = 1
	FieldFloat64 FieldKind = 2
	FieldString  FieldKind = 3
)

// Field is one tagged key/value pair in a Record.
type Field struct {
	Key   string
	Kind  FieldKind
	Int   int64
	Float float64
	Str   string
}

func IntField(key string, v int64) Field     { return Field{Key: key, Kind: FieldInt64, Int: v} }
func FloatField(key string, v float64) Field { return Field{Key: key, Kind: FieldFloat64, Float: v} }
func StringField(key string, v string) Field { return Field{Key: key, Kind: FieldString, Str: v} }

const recordVersion = 1

// EncodeRecord serializes fields (and, when timestamp is non-nil, a
// leading 8-byte little-endian unix timestamp) into the binary layout
// spec §3 describes for the "repository" and "statistics" sub-dbs:
// version byte (1), optional timestamp, 4-byte entry count, then each
// field as (key_len u16, key bytes, type tag u8, value). Strings are
// themselves length-prefixed with a u16, since the spec leaves the
// width of "length-prefixed-string" unstated.
func EncodeRecord(fields []Field, timestamp *int64) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(recordVersion)
	if timestamp != nil {
		var tsb [8]byte
		binary.LittleEndian.PutUint64(tsb[:], uint64(*timestamp))
		buf.Write(tsb[:])
	}
	var cnt [4]byte
	binary.LittleEndian.PutUint32(cnt[:], uint32(len(fields)))
	buf.Write(cnt[:])
	for _, f := range fields {
		var kl [2]byte
		binary.LittleEndian.PutUint16(kl[:], uint16(len(f.Key)))
		buf.Write(kl[:])
		buf.WriteString(f.Key)
		buf.WriteByte(byte(f.Kind))
		switch f.Kind {
		case FieldInt64:
			var v [8]byte
			binary.LittleEndian.PutUint64(v[:], uint64(f.Int))
			buf.Write(v[:])
		case FieldFloat64:
			var v [8]byte
			binary.LittleEndian.PutUint64(v[:], math.Float64bits(f.Float))
			buf.Write(v[:])
		case FieldString:
			var sl [2]byte
			binary.LittleEndian.PutUint16(sl[:], uint16(len(f.Str)))
			buf.Write(sl[:])
			buf.WriteString(f.Str)
		}
	}
	return buf.Bytes()
}

// DecodeRecord parses data written by EncodeRecord. hasTimestamp must
// match how the record was encoded (true for "statistics" entries, false
// for "repository" entries) since the leading timestamp, if present, has
// no self-describing tag of its own.
func DecodeRecord(data []byte, hasTimestamp bool) (timestamp *int64, fields []Field, err error) {
	r := bytes.NewReader(data)
	var version byte
	if version, err = r.ReadByte(); err != nil {
		return nil, nil, fmt.Errorf("kvstore: decode record: %w", err)
	}
	if version != recordVersion {
		return nil, nil, fmt.Errorf("kvstore: unsupported record version %d", version)
	}
	if hasTimestamp {
		var raw uint64
		if err = binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return nil, nil, fmt.Errorf("kvstore: decode timestamp: %w", err)
		}
		ts := int64(raw)
		timestamp = &ts
	}
	var count uint32
	if err = binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, nil, fmt.Errorf("kvstore: decode field count: %w", err)
	}
	fields = make([]Field, 0, count)
	for i := uint32(0); i < count; i++ {
		var keyLen uint16
		if err = binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
			return nil, nil, fmt.Errorf("kvstore: decode field %d key length: %w", i, err)
		}
		keyBuf := make([]byte, keyLen)
		if _, err = io.ReadFull(r, keyBuf); err != nil {
			return nil, nil, fmt.Errorf("kvstore: decode field %d key: %w", i, err)
		}
		kindByte, err2 := r.ReadByte()
		if err2 != nil {
			return nil, nil, fmt.Errorf("kvstore: decode field %d type tag: %w", i, err2)
		}
		f := Field{Key: string(keyBuf), Kind: FieldKind(kindByte)}
		switch f.Kind {
		case FieldInt64:
			var v uint64
			if err = binary.Read(r, binary.LittleEndian, &v); err != nil {
				return nil, nil, fmt.Errorf("kvstore: decode field %d int64: %w", i, err)
			}
			f.Int = int64(v)
		case FieldFloat64:
			var v uint64
			if err = binary.Read(r, binary.LittleEndian, &v); err != nil {
				return nil, nil, fmt.Errorf("kvstore: decode field %d float64: %w", i, err)
			}
			f.Float = math.Float64frombits(v)
		case FieldString:
			var sl uint16
			if err = binary.Read(r, binary.LittleEndian, &sl); err != nil {
				return nil, nil, fmt.Errorf("kvstore: decode field %d string length: %w", i, err)
			}
			sb := make([]byte, sl)
			if _, err = io.ReadFull(r, sb); err != nil {
				return nil, nil, fmt.Errorf("kvstore: decode field %d string: %w", i, err)
			}
			f.Str = string(sb)
		default:
			return nil, nil, fmt.Errorf("kvstore: field %d: unknown type tag %d", i, kindByte)
		}
		fields = append(fields, f)
	}
	return timestamp, fields, nil
}

// FieldsByKey indexes a decoded field slice by key for convenient lookup.
func FieldsByKey(fields []Field) map[string]Field {
	m := make(map[string]Field, len(fields))
	for _, f := range fields {
		m[f.Key] = f
	}
	return m
}
