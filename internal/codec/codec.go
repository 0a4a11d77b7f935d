// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package codec implements the fixed-width argument encodings RemoteFunction
// invocations use to turn typed Go values into the byte ranges an
// OutputPipe sends and an InputPipe reassembles: signed/unsigned integers
// of every standard width, float32, bool, and object references.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fibre-rpc/fibre/internal/fibreerr"
)

// Codec encodes and decodes one fixed-width Go value to and from its wire
// representation. Length is constant per codec, matching the embedded
// peer's struct-packed layout (spec §4.8).
type Codec interface {
	Length() int
	Encode(value any) ([]byte, error)
	Decode(buf []byte) (any, error)
}

type intCodec struct {
	length int
	signed bool
}

func (c intCodec) Length() int { return c.length }

func (c intCodec) Encode(value any) ([]byte, error) {
	buf := make([]byte, c.length)
	switch c.length {
	case 1:
		v, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		buf[0] = byte(v)
	case 2:
		v, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		v, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case 8:
		v, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint64(buf, uint64(v))
	default:
		return nil, fmt.Errorf("codec: unsupported integer width %d", c.length)
	}
	return buf, nil
}

func (c intCodec) Decode(buf []byte) (any, error) {
	if len(buf) != c.length {
		return nil, fmt.Errorf("codec: int%d needs %d bytes, got %d: %w", c.length*8, c.length, len(buf), fibreerr.ErrProtocol)
	}
	switch c.length {
	case 1:
		if c.signed {
			return int64(int8(buf[0])), nil
		}
		return int64(buf[0]), nil
	case 2:
		v := binary.LittleEndian.Uint16(buf)
		if c.signed {
			return int64(int16(v)), nil
		}
		return int64(v), nil
	case 4:
		v := binary.LittleEndian.Uint32(buf)
		if c.signed {
			return int64(int32(v)), nil
		}
		return int64(v), nil
	case 8:
		v := binary.LittleEndian.Uint64(buf)
		if c.signed {
			return int64(v), nil
		}
		return int64(v), nil
	}
	return nil, fmt.Errorf("codec: unsupported integer width %d", c.length)
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("codec: cannot encode %T as an integer: %w", value, fibreerr.ErrArgumentInvalid)
	}
}

// Int8, Uint8, Int16, Uint16, Int32, Uint32, Int64, Uint64 are the fixed-
// width integer codecs named after the wire formats they implement
// ("i8le"/"u8le"/... in the embedded peer's codec table).
var (
	Int8   Codec = intCodec{length: 1, signed: true}
	Uint8  Codec = intCodec{length: 1, signed: false}
	Int16  Codec = intCodec{length: 2, signed: true}
	Uint16 Codec = intCodec{length: 2, signed: false}
	Int32  Codec = intCodec{length: 4, signed: true}
	Uint32 Codec = intCodec{length: 4, signed: false}
	Int64  Codec = intCodec{length: 8, signed: true}
	Uint64 Codec = intCodec{length: 8, signed: false}
)

type floatCodec struct{}

func (floatCodec) Length() int { return 4 }

func (floatCodec) Encode(value any) ([]byte, error) {
	f, ok := value.(float32)
	if !ok {
		if f64, ok64 := value.(float64); ok64 {
			f = float32(f64)
		} else {
			return nil, fmt.Errorf("codec: cannot encode %T as float32: %w", value, fibreerr.ErrArgumentInvalid)
		}
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
	return buf, nil
}

func (floatCodec) Decode(buf []byte) (any, error) {
	if len(buf) != 4 {
		return nil, fmt.Errorf("codec: float32 needs 4 bytes, got %d: %w", len(buf), fibreerr.ErrProtocol)
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(buf)), nil
}

// Float32 is the wire codec for 32-bit floating point values ("float").
var Float32 Codec = floatCodec{}

type boolCodec struct{}

func (boolCodec) Length() int { return 1 }

func (boolCodec) Encode(value any) ([]byte, error) {
	b, ok := value.(bool)
	if !ok {
		return nil, fmt.Errorf("codec: cannot encode %T as bool: %w", value, fibreerr.ErrArgumentInvalid)
	}
	if b {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

func (boolCodec) Decode(buf []byte) (any, error) {
	if len(buf) != 1 {
		return nil, fmt.Errorf("codec: bool needs 1 byte, got %d: %w", len(buf), fibreerr.ErrProtocol)
	}
	return buf[0] != 0, nil
}

// Bool is the wire codec for boolean values.
var Bool Codec = boolCodec{}

// ObjectRef is an endpoint reference as carried over the wire: an object id
// together with the interface CRC it was resolved against, used so a
// receiver can detect it is holding a reference computed against a stale
// interface definition (spec §4.8, supplementing the distilled spec's
// "object reference" mention with the embedded peer's actual wire shape).
type ObjectRef struct {
	ObjectID     uint16
	InterfaceCRC uint16
}

type objectRefCodec struct{}

func (objectRefCodec) Length() int { return 4 }

func (objectRefCodec) Encode(value any) ([]byte, error) {
	ref, ok := value.(ObjectRef)
	if !ok {
		return nil, fmt.Errorf("codec: cannot encode %T as ObjectRef: %w", value, fibreerr.ErrArgumentInvalid)
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], ref.ObjectID)
	binary.LittleEndian.PutUint16(buf[2:4], ref.InterfaceCRC)
	return buf, nil
}

func (objectRefCodec) Decode(buf []byte) (any, error) {
	if len(buf) != 4 {
		return nil, fmt.Errorf("codec: ObjectRef needs 4 bytes, got %d: %w", len(buf), fibreerr.ErrProtocol)
	}
	return ObjectRef{
		ObjectID:     binary.LittleEndian.Uint16(buf[0:2]),
		InterfaceCRC: binary.LittleEndian.Uint16(buf[2:4]),
	}, nil
}

// ObjectReference is the wire codec for endpoint/object references.
var ObjectReference Codec = objectRefCodec{}
