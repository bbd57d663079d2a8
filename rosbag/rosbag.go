// Package rosbag reads ROS bag files in the 2.0 format, record by record.
package rosbag

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

const (
	versionFormat = "#ROSBAG V%d.%d\n"
)

var (
	supportedVersion = Version{
		Major: 2,
		Minor: 0,
	}
)

var (
	errInvalidOp                = errors.New("invalid op")
	errMissingField             = errors.New("missing header field")
	errInvalidHeader            = errors.New("invalid record header")
	errNotFoundConnectionHeader = errors.New("message data refers to an unknown connection")
)

type Op uint8

const (
	// OpInvalid is an extension from the standard. This Op marks an invalid Op.
	OpInvalid     Op = 0x00
	OpMessageData Op = 0x02
	OpBagHeader   Op = 0x03
	OpIndexData   Op = 0x04
	OpChunk       Op = 0x05
	OpChunkInfo   Op = 0x06
	OpConnection  Op = 0x07
)

func (op Op) String() string {
	switch op {
	case OpMessageData:
		return "message_data"
	case OpBagHeader:
		return "bag_header"
	case OpIndexData:
		return "index_data"
	case OpChunk:
		return "chunk"
	case OpChunkInfo:
		return "chunk_info"
	case OpConnection:
		return "connection"
	default:
		return fmt.Sprintf("invalid(0x%02x)", uint8(op))
	}
}

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionBZ2  Compression = "bz2"
	CompressionLZ4  Compression = "lz4"
)

type Version struct {
	Major uint
	Minor uint
}

func (version *Version) String() string {
	return fmt.Sprintf("%d.%d", version.Major, version.Minor)
}

// Record is a single bag record. Records handed out by the Decoder share pooled
// memory, Close gives that memory back and the record must not be used afterwards.
type Record interface {
	Op() (Op, error)
	Header() []byte
	Data() []byte
	String() string
	Close()
}

// RecordBase holds the raw bytes of a record:
// header_len (4 bytes), header, data_len (4 bytes), data.
type RecordBase struct {
	Raw       []byte
	HeaderLen uint32
	DataLen   uint32
	closeFn   func()
}

func (record *RecordBase) Header() []byte {
	return record.Raw[lenInBytes : lenInBytes+record.HeaderLen]
}

// Data is empty for chunk records, their content is streamed by the Decoder instead.
func (record *RecordBase) Data() []byte {
	off := lenInBytes + record.HeaderLen + lenInBytes
	if uint32(len(record.Raw)) < off+record.DataLen {
		return nil
	}
	return record.Raw[off : off+record.DataLen]
}

func (record *RecordBase) Op() (Op, error) {
	value, err := findHeaderField(record.Header(), "op")
	if err != nil {
		return OpInvalid, err
	}

	if len(value) != 1 {
		return OpInvalid, errInvalidOp
	}
	return Op(value[0]), nil
}

func (record *RecordBase) Close() {
	if record.closeFn == nil {
		return
	}

	closeFn := record.closeFn
	record.closeFn = nil
	closeFn()
}

func (record *RecordBase) String() string {
	return fmt.Sprintf(`
header_len : %d bytes
data_len   : %d bytes
`, record.HeaderLen, record.DataLen)
}

// grow makes sure Raw can hold at least size bytes while keeping its content.
func (record *RecordBase) grow(size uint32) {
	if uint32(cap(record.Raw)) >= size {
		record.Raw = record.Raw[:size]
		return
	}

	raw := make([]byte, size, size+size/2)
	copy(raw, record.Raw)
	record.Raw = raw
}

func (record *RecordBase) uint32Field(key string) (uint32, error) {
	return headerUint32(record.Header(), key)
}

func (record *RecordBase) uint64Field(key string) (uint64, error) {
	value, err := findHeaderField(record.Header(), key)
	if err != nil {
		return 0, err
	}

	if len(value) != 8 {
		return 0, fmt.Errorf("%s: expected 8 bytes, got %d", key, len(value))
	}
	return endian.Uint64(value), nil
}

func (record *RecordBase) timeField(key string) (time.Time, error) {
	value, err := findHeaderField(record.Header(), key)
	if err != nil {
		return time.Time{}, err
	}

	if len(value) != 8 {
		return time.Time{}, fmt.Errorf("%s: expected 8 bytes, got %d", key, len(value))
	}
	return extractTime(value), nil
}

type RecordBagHeader struct {
	*RecordBase
}

// IndexPos is the offset of the first record after the chunk section. Zero means the
// bag was never indexed.
func (record *RecordBagHeader) IndexPos() (uint64, error) {
	return record.uint64Field("index_pos")
}

func (record *RecordBagHeader) ConnCount() (uint32, error) {
	return record.uint32Field("conn_count")
}

func (record *RecordBagHeader) ChunkCount() (uint32, error) {
	return record.uint32Field("chunk_count")
}

func (record *RecordBagHeader) String() string {
	indexPos, _ := record.IndexPos()
	connCount, _ := record.ConnCount()
	chunkCount, _ := record.ChunkCount()
	return fmt.Sprintf(`
index_pos   : %d
conn_count  : %d
chunk_count : %d
`, indexPos, connCount, chunkCount)
}

type RecordChunk struct {
	*RecordBase
}

func (record *RecordChunk) Compression() (Compression, error) {
	value, err := findHeaderField(record.Header(), "compression")
	if err != nil {
		return "", err
	}
	return Compression(value), nil
}

// Size is the uncompressed size of the chunk data.
func (record *RecordChunk) Size() (uint32, error) {
	return record.uint32Field("size")
}

func (record *RecordChunk) String() string {
	compression, _ := record.Compression()
	size, _ := record.Size()
	return fmt.Sprintf(`
compression : %s
size        : %d bytes
`, compression, size)
}

type RecordConnection struct {
	*RecordBase
}

func (record *RecordConnection) Conn() (uint32, error) {
	return record.uint32Field("conn")
}

func (record *RecordConnection) Topic() (string, error) {
	value, err := findHeaderField(record.Header(), "topic")
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// ConnectionHeader parses the data part of the record. The topic of the record header
// wins over the one in the data, which is only used when the record header has none.
// The returned header does not reference the record memory.
func (record *RecordConnection) ConnectionHeader() (*ConnectionHeader, error) {
	var hdr ConnectionHeader
	if err := hdr.unmarshall(record.Data()); err != nil {
		return nil, err
	}

	topic, err := record.Topic()
	switch {
	case err == nil:
		hdr.Topic = topic
	case errors.Is(err, errMissingField) && hdr.Topic != "":
	default:
		return nil, err
	}
	return &hdr, nil
}

func (record *RecordConnection) String() string {
	conn, _ := record.Conn()
	topic, _ := record.Topic()
	return fmt.Sprintf(`
conn  : %d
topic : %s
`, conn, topic)
}

type RecordMessageData struct {
	*RecordBase
	connHdr *ConnectionHeader
}

func (record *RecordMessageData) Conn() (uint32, error) {
	return record.uint32Field("conn")
}

// Time is the time the message was received.
func (record *RecordMessageData) Time() (time.Time, error) {
	return record.timeField("time")
}

func (record *RecordMessageData) ConnectionHeader() *ConnectionHeader {
	return record.connHdr
}

func (record *RecordMessageData) Topic() string {
	return record.connHdr.Topic
}

// UnmarshallTo decodes the message into v, which must be a map[string]interface{} or
// a pointer to a struct. uint8 arrays in the result share memory with the record and
// are only valid until the record is closed.
func (record *RecordMessageData) UnmarshallTo(v interface{}) error {
	_, err := decodeMessageData(&record.connHdr.MessageDefinition, record.Data(), v)
	return err
}

func (record *RecordMessageData) String() string {
	t, _ := record.Time()
	return fmt.Sprintf(`
topic : %s
time  : %s
size  : %d bytes
`, record.Topic(), t, record.DataLen)
}

type RecordIndexData struct {
	*RecordBase
}

func (record *RecordIndexData) Ver() (uint32, error) {
	return record.uint32Field("ver")
}

func (record *RecordIndexData) Conn() (uint32, error) {
	return record.uint32Field("conn")
}

func (record *RecordIndexData) Count() (uint32, error) {
	return record.uint32Field("count")
}

type RecordChunkInfo struct {
	*RecordBase
}

func (record *RecordChunkInfo) Ver() (uint32, error) {
	return record.uint32Field("ver")
}

func (record *RecordChunkInfo) ChunkPos() (uint64, error) {
	return record.uint64Field("chunk_pos")
}

func (record *RecordChunkInfo) StartTime() (time.Time, error) {
	return record.timeField("start_time")
}

func (record *RecordChunkInfo) EndTime() (time.Time, error) {
	return record.timeField("end_time")
}

// Count is the number of connections in the chunk.
func (record *RecordChunkInfo) Count() (uint32, error) {
	return record.uint32Field("count")
}

// MessageCounts maps connection ids to the number of messages they have in the chunk.
func (record *RecordChunkInfo) MessageCounts() (map[uint32]uint32, error) {
	data := record.Data()
	if len(data)%8 != 0 {
		return nil, errInvalidHeader
	}

	counts := make(map[uint32]uint32, len(data)/8)
	for off := 0; off < len(data); off += 8 {
		counts[endian.Uint32(data[off:])] += endian.Uint32(data[off+4:])
	}
	return counts, nil
}

// iterateHeaderFields calls cb for every name=value pair in header until cb returns false.
func iterateHeaderFields(header []byte, cb func(key, value []byte) bool) error {
	for len(header) > 0 {
		if len(header) < lenInBytes {
			return errInvalidHeader
		}

		fieldLen := endian.Uint32(header)
		header = header[lenInBytes:]
		if uint32(len(header)) < fieldLen {
			return errInvalidHeader
		}

		field := header[:fieldLen]
		header = header[fieldLen:]

		idx := bytes.IndexByte(field, headerFieldDelimiter)
		if idx == -1 {
			return errInvalidHeader
		}

		if !cb(field[:idx], field[idx+1:]) {
			return nil
		}
	}

	return nil
}

func findHeaderField(header []byte, key string) ([]byte, error) {
	var found []byte
	var ok bool
	err := iterateHeaderFields(header, func(k, v []byte) bool {
		if string(k) == key {
			found, ok = v, true
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%w: %s", errMissingField, key)
	}
	return found, nil
}

func headerUint32(header []byte, key string) (uint32, error) {
	value, err := findHeaderField(header, key)
	if err != nil {
		return 0, err
	}

	if len(value) != 4 {
		return 0, fmt.Errorf("%s: expected 4 bytes, got %d", key, len(value))
	}
	return endian.Uint32(value), nil
}
