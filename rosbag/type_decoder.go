package rosbag

import (
	"math"
	"time"
)

type fieldDecodeFunc func(raw []byte, length int) (v interface{}, off int, ok bool)

// scalarDecoder converts exactly size bytes into a value.
type scalarDecoder[T any] struct {
	size   int
	decode func(raw []byte) T
}

var (
	boolDecoder     = scalarDecoder[bool]{1, func(raw []byte) bool { return raw[0] != 0 }}
	int8Decoder     = scalarDecoder[int8]{1, func(raw []byte) int8 { return int8(raw[0]) }}
	uint8Decoder    = scalarDecoder[uint8]{1, func(raw []byte) uint8 { return raw[0] }}
	int16Decoder    = scalarDecoder[int16]{2, func(raw []byte) int16 { return int16(endian.Uint16(raw)) }}
	uint16Decoder   = scalarDecoder[uint16]{2, endian.Uint16}
	int32Decoder    = scalarDecoder[int32]{4, func(raw []byte) int32 { return int32(endian.Uint32(raw)) }}
	uint32Decoder   = scalarDecoder[uint32]{4, endian.Uint32}
	int64Decoder    = scalarDecoder[int64]{8, func(raw []byte) int64 { return int64(endian.Uint64(raw)) }}
	uint64Decoder   = scalarDecoder[uint64]{8, endian.Uint64}
	float32Decoder  = scalarDecoder[float32]{4, func(raw []byte) float32 { return math.Float32frombits(endian.Uint32(raw)) }}
	float64Decoder  = scalarDecoder[float64]{8, func(raw []byte) float64 { return math.Float64frombits(endian.Uint64(raw)) }}
	timeDecoder     = scalarDecoder[time.Time]{8, extractTime}
	durationDecoder = scalarDecoder[time.Duration]{8, extractDuration}
)

func (d scalarDecoder[T]) one(raw []byte, length int) (v interface{}, off int, ok bool) {
	if len(raw) < d.size {
		return
	}
	return d.decode(raw), d.size, true
}

func (d scalarDecoder[T]) slice(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok {
		return
	}

	raw = raw[off:]
	if length > len(raw)/d.size {
		ok = false
		return
	}

	arr := make([]T, length)
	for i := range arr {
		arr[i] = d.decode(raw[i*d.size:])
	}
	return arr, off + length*d.size, true
}

var fieldDecodeBasicHelper = map[MessageFieldType]fieldDecodeFunc{
	MessageFieldTypeBool:     boolDecoder.one,
	MessageFieldTypeInt8:     int8Decoder.one,
	MessageFieldTypeUint8:    uint8Decoder.one,
	MessageFieldTypeInt16:    int16Decoder.one,
	MessageFieldTypeUint16:   uint16Decoder.one,
	MessageFieldTypeInt32:    int32Decoder.one,
	MessageFieldTypeUint32:   uint32Decoder.one,
	MessageFieldTypeInt64:    int64Decoder.one,
	MessageFieldTypeUint64:   uint64Decoder.one,
	MessageFieldTypeFloat32:  float32Decoder.one,
	MessageFieldTypeFloat64:  float64Decoder.one,
	MessageFieldTypeString:   fieldDecodeString,
	MessageFieldTypeTime:     timeDecoder.one,
	MessageFieldTypeDuration: durationDecoder.one,
}

var fieldDecodeSliceHelper = map[MessageFieldType]fieldDecodeFunc{
	MessageFieldTypeBool:     boolDecoder.slice,
	MessageFieldTypeInt8:     int8Decoder.slice,
	MessageFieldTypeUint8:    fieldDecodeUint8Slice,
	MessageFieldTypeInt16:    int16Decoder.slice,
	MessageFieldTypeUint16:   uint16Decoder.slice,
	MessageFieldTypeInt32:    int32Decoder.slice,
	MessageFieldTypeUint32:   uint32Decoder.slice,
	MessageFieldTypeInt64:    int64Decoder.slice,
	MessageFieldTypeUint64:   uint64Decoder.slice,
	MessageFieldTypeFloat32:  float32Decoder.slice,
	MessageFieldTypeFloat64:  float64Decoder.slice,
	MessageFieldTypeString:   fieldDecodeStringSlice,
	MessageFieldTypeTime:     timeDecoder.slice,
	MessageFieldTypeDuration: durationDecoder.slice,
}

// fieldDecodeLength returns the number of elements of an array. Fixed arrays have
// fixedLength >= 0 and no length prefix on the wire.
func fieldDecodeLength(raw []byte, fixedLength int) (length int, off int, ok bool) {
	if fixedLength >= 0 {
		ok = true
		length = fixedLength
		return
	}

	if len(raw) < lenInBytes {
		return
	}

	length = int(endian.Uint32(raw))
	off = lenInBytes
	ok = true
	return
}

// fieldDecodeUint8Slice doesn't copy, image payloads are large and they're the common case.
func fieldDecodeUint8Slice(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok {
		return
	}

	raw = raw[off:]
	if length > len(raw) {
		ok = false
		return
	}

	return raw[:length:length], off + length, true
}

func fieldDecodeString(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, -1)
	if !ok {
		return
	}

	raw = raw[off:]
	if length > len(raw) {
		ok = false
		return
	}

	return string(raw[:length]), off + length, true
}

func fieldDecodeStringSlice(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok {
		return
	}

	// each string carries at least its length prefix
	if length > (len(raw)-off)/lenInBytes {
		ok = false
		return
	}

	s := make([]string, length)
	for i := range s {
		var n int
		v, n, ok = fieldDecodeString(raw[off:], -1)
		if !ok {
			return
		}

		s[i] = v.(string)
		off += n
	}

	return s, off, true
}
