package rosbag

import (
	"bufio"
	"compress/bzip2"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

const (
	lenInBytes           = 4
	headerFieldDelimiter = '='
	initialRecordSize    = 4096
	// readStep bounds how much memory is reserved ahead of data that actually arrived.
	readStep = 1 << 20
)

var (
	errUnsupportedCompression = errors.New("unsupported compression algorithm. Available algortihms: [none, bz2, lz4]")
	errUnsupportedVersion     = errors.New("unsupported rosbag version")
)

var (
	endian = binary.LittleEndian

	recordPool = sync.Pool{
		New: func() interface{} {
			return &RecordBase{
				Raw: make([]byte, 0, initialRecordSize),
			}
		},
	}
)

type Decoder struct {
	reader         *bufio.Reader
	chunkReader    io.Reader
	chunkRaw       io.Reader
	checkedVersion bool
	conns          map[uint32]*ConnectionHeader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		reader: bufio.NewReader(r),
		conns:  make(map[uint32]*ConnectionHeader),
	}
}

// newIndexDecoder reads records from the middle of a bag, where there's no version line.
func newIndexDecoder(r io.Reader) *Decoder {
	decoder := NewDecoder(r)
	decoder.checkedVersion = true
	return decoder
}

// Read returns the next record in the rosbag. The first call also checks that the rosbag
// format version is supported. When it reaches the end of the bag, Read returns io.EOF.
// Chunk records are returned before the records they contain.
func (decoder *Decoder) Read() (Record, error) {
	if !decoder.checkedVersion {
		if err := decoder.checkVersion(); err != nil {
			return nil, err
		}

		decoder.checkedVersion = true
	}

	record := recordPool.Get().(*RecordBase)
	record.closeFn = func() {
		recordPool.Put(record)
	}

	if decoder.chunkReader != nil {
		specializedRecord, err := decoder.decodeRecord(decoder.chunkReader, record)
		switch err {
		case nil:
			return specializedRecord, nil
		case io.EOF:
			/* explicit ignore */
		default:
			// the record is not usable, so recycle it
			record.Close()
			return nil, err
		}

		// at this point, the chunk is exhausted. Skip whatever the decompressor left
		// behind so that the source stays aligned on the next record.
		if _, err := io.Copy(io.Discard, decoder.chunkRaw); err != nil {
			record.Close()
			return nil, err
		}
		decoder.chunkReader = nil
		decoder.chunkRaw = nil
	}

	specializedRecord, err := decoder.decodeRecord(decoder.reader, record)
	if err != nil {
		record.Close()
		return nil, err
	}

	return specializedRecord, nil
}

// Connections returns the connection headers seen so far, keyed by connection id.
func (decoder *Decoder) Connections() map[uint32]*ConnectionHeader {
	return decoder.conns
}

func (decoder *Decoder) handleChunk(record *RecordBase) (Record, error) {
	chunkRecord := RecordChunk{
		RecordBase: record,
	}

	compression, err := chunkRecord.Compression()
	if err != nil {
		return nil, err
	}

	chunkRaw := io.LimitReader(decoder.reader, int64(record.DataLen))
	switch compression {
	case CompressionNone:
		decoder.chunkReader = chunkRaw
	case CompressionBZ2:
		decoder.chunkReader = bzip2.NewReader(chunkRaw)
	case CompressionLZ4:
		decoder.chunkReader = lz4.NewReader(chunkRaw)
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedCompression, compression)
	}
	decoder.chunkRaw = chunkRaw

	return &chunkRecord, nil
}

func (decoder *Decoder) handleConnection(record *RecordBase) (Record, error) {
	connRecord := RecordConnection{
		RecordBase: record,
	}

	conn, err := connRecord.Conn()
	if err != nil {
		return nil, err
	}

	hdr, err := connRecord.ConnectionHeader()
	if err != nil {
		return nil, err
	}

	decoder.conns[conn] = hdr
	return &connRecord, nil
}

func (decoder *Decoder) handleMessageData(record *RecordBase) (Record, error) {
	msgRecord := RecordMessageData{
		RecordBase: record,
	}

	conn, err := msgRecord.Conn()
	if err != nil {
		return nil, err
	}

	connHdr, ok := decoder.conns[conn]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errNotFoundConnectionHeader, conn)
	}

	msgRecord.connHdr = connHdr
	return &msgRecord, nil
}

func (decoder *Decoder) checkVersion() error {
	var version Version

	line, err := decoder.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}

	_, err = fmt.Sscanf(line, versionFormat, &version.Major, &version.Minor)
	if err != nil {
		return fmt.Errorf("not a rosbag: %w", err)
	}

	if version != supportedVersion {
		return fmt.Errorf("%w: %s, %s is the current supported version", errUnsupportedVersion, &version, &supportedVersion)
	}

	return nil
}

// fill appends n bytes from r to record.Raw. Memory is reserved in steps so a corrupted
// length can't make us allocate far beyond what r really holds.
func (record *RecordBase) fill(r io.Reader, n uint32) error {
	off := uint32(len(record.Raw))
	for n > 0 {
		step := n
		if step > readStep {
			step = readStep
		}

		record.grow(off + step)
		if _, err := io.ReadFull(r, record.Raw[off:off+step]); err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}

		off += step
		n -= step
	}
	return nil
}

func (decoder *Decoder) decodeRecord(r io.Reader, record *RecordBase) (Record, error) {
	record.Raw = record.Raw[:0]

	record.grow(lenInBytes)
	// a clean EOF here means there are no more records
	if _, err := io.ReadFull(r, record.Raw); err != nil {
		return nil, err
	}
	record.HeaderLen = endian.Uint32(record.Raw)

	if err := record.fill(r, record.HeaderLen); err != nil {
		return nil, err
	}

	op, err := record.Op()
	if err != nil {
		return nil, err
	}

	if err := record.fill(r, lenInBytes); err != nil {
		return nil, err
	}
	record.DataLen = endian.Uint32(record.Raw[lenInBytes+record.HeaderLen:])

	// Since RecordChunk contains a lot of messages and connections, we don't read
	// the data part. We'll let the next iterations parse it.
	if op == OpChunk {
		return decoder.handleChunk(record)
	}

	if err := record.fill(r, record.DataLen); err != nil {
		return nil, err
	}

	switch op {
	case OpBagHeader:
		return &RecordBagHeader{RecordBase: record}, nil
	case OpConnection:
		return decoder.handleConnection(record)
	case OpMessageData:
		return decoder.handleMessageData(record)
	case OpIndexData:
		return &RecordIndexData{RecordBase: record}, nil
	case OpChunkInfo:
		return &RecordChunkInfo{RecordBase: record}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errInvalidOp, op)
	}
}
