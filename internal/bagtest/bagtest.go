// Package bagtest builds small ROS bag 2.0 files for tests.
package bagtest

import (
	"bytes"
	"encoding/binary"
	"os"
	"sort"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

const versionLine = "#ROSBAG V2.0\n"

// bagHeaderSize is the total size of the bag header record, padded like rosbag does.
const bagHeaderSize = 4096

var endian = binary.LittleEndian

type connection struct {
	id         uint32
	topic      string
	msgType    string
	md5sum     string
	definition string
}

type message struct {
	conn uint32
	time time.Time
	data []byte
}

// Builder accumulates connections and messages and lays them out as a bag file.
type Builder struct {
	// Compression of the chunks, "none" or "lz4".
	Compression string
	// Unindexed leaves index_pos at zero and omits the index section, like a bag whose
	// recording was interrupted.
	Unindexed bool

	conns  []connection
	chunks [][]message
}

func New() *Builder {
	return &Builder{Compression: "none"}
}

// AddConnection registers a topic and returns its connection id.
func (b *Builder) AddConnection(topic, msgType, md5sum, definition string) uint32 {
	id := uint32(len(b.conns))
	b.conns = append(b.conns, connection{
		id:         id,
		topic:      topic,
		msgType:    msgType,
		md5sum:     md5sum,
		definition: definition,
	})
	return id
}

// AddMessage appends a message to the current chunk.
func (b *Builder) AddMessage(conn uint32, t time.Time, data []byte) {
	if len(b.chunks) == 0 {
		b.NewChunk()
	}

	last := len(b.chunks) - 1
	b.chunks[last] = append(b.chunks[last], message{conn: conn, time: t, data: data})
}

// NewChunk makes the following messages go to a new chunk.
func (b *Builder) NewChunk() {
	b.chunks = append(b.chunks, nil)
}

func (b *Builder) WriteFile(path string) error {
	raw, err := b.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

type chunkInfo struct {
	pos        uint64
	start, end time.Time
	counts     map[uint32]uint32
}

func (b *Builder) Bytes() ([]byte, error) {
	prefix := uint64(len(versionLine) + bagHeaderSize)

	var body bytes.Buffer
	var infos []chunkInfo
	written := make(map[uint32]bool)
	for _, msgs := range b.chunks {
		// rosbag never writes a chunk without messages
		if len(msgs) == 0 {
			continue
		}

		info := chunkInfo{
			pos:    prefix + uint64(body.Len()),
			counts: make(map[uint32]uint32),
		}

		var chunk bytes.Buffer
		index := make(map[uint32][]byte)
		for _, msg := range msgs {
			if int(msg.conn) >= len(b.conns) {
				return nil, errors.Errorf("unknown connection %d", msg.conn)
			}

			if !written[msg.conn] {
				chunk.Write(b.connectionRecord(b.conns[msg.conn]))
				written[msg.conn] = true
			}

			entry := append(timeBytes(msg.time), uint32Bytes(uint32(chunk.Len()))...)
			index[msg.conn] = append(index[msg.conn], entry...)
			chunk.Write(record(
				header(
					field("op", []byte{0x02}),
					field("conn", uint32Bytes(msg.conn)),
					field("time", timeBytes(msg.time)),
				),
				msg.data,
			))

			info.counts[msg.conn]++
			if info.start.IsZero() || msg.time.Before(info.start) {
				info.start = msg.time
			}
			if msg.time.After(info.end) {
				info.end = msg.time
			}
		}

		compressed, err := compress(b.Compression, chunk.Bytes())
		if err != nil {
			return nil, err
		}

		body.Write(record(
			header(
				field("op", []byte{0x05}),
				field("compression", []byte(b.Compression)),
				field("size", uint32Bytes(uint32(chunk.Len()))),
			),
			compressed,
		))

		for _, conn := range sortedConns(info.counts) {
			body.Write(record(
				header(
					field("op", []byte{0x04}),
					field("ver", uint32Bytes(1)),
					field("conn", uint32Bytes(conn)),
					field("count", uint32Bytes(info.counts[conn])),
				),
				index[conn],
			))
		}

		infos = append(infos, info)
	}

	indexPos := prefix + uint64(body.Len())
	if b.Unindexed {
		indexPos = 0
	} else {
		for _, conn := range b.conns {
			body.Write(b.connectionRecord(conn))
		}

		for _, info := range infos {
			var data []byte
			for _, conn := range sortedConns(info.counts) {
				data = append(data, uint32Bytes(conn)...)
				data = append(data, uint32Bytes(info.counts[conn])...)
			}

			body.Write(record(
				header(
					field("op", []byte{0x06}),
					field("ver", uint32Bytes(1)),
					field("chunk_pos", uint64Bytes(info.pos)),
					field("start_time", timeBytes(info.start)),
					field("end_time", timeBytes(info.end)),
					field("count", uint32Bytes(uint32(len(info.counts)))),
				),
				data,
			))
		}
	}

	var out bytes.Buffer
	out.WriteString(versionLine)
	out.Write(b.bagHeaderRecord(indexPos, uint32(len(infos))))
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func (b *Builder) bagHeaderRecord(indexPos uint64, chunkCount uint32) []byte {
	connCount := uint32(len(b.conns))
	if b.Unindexed {
		connCount, chunkCount = 0, 0
	}

	hdr := header(
		field("op", []byte{0x03}),
		field("index_pos", uint64Bytes(indexPos)),
		field("conn_count", uint32Bytes(connCount)),
		field("chunk_count", uint32Bytes(chunkCount)),
	)
	padding := bytes.Repeat([]byte(" "), bagHeaderSize-len(hdr)-8)
	return record(hdr, padding)
}

func (b *Builder) connectionRecord(conn connection) []byte {
	return record(
		header(
			field("op", []byte{0x07}),
			field("conn", uint32Bytes(conn.id)),
			field("topic", []byte(conn.topic)),
		),
		header(
			field("topic", []byte(conn.topic)),
			field("type", []byte(conn.msgType)),
			field("md5sum", []byte(conn.md5sum)),
			field("message_definition", []byte(conn.definition)),
		),
	)
}

func compress(compression string, data []byte) ([]byte, error) {
	switch compression {
	case "", "none":
		return data, nil
	case "lz4":
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, errors.Wrap(err, "lz4 compress")
		}
		if err := zw.Close(); err != nil {
			return nil, errors.Wrap(err, "lz4 compress")
		}
		return buf.Bytes(), nil
	default:
		// anything else is written as is, readers are expected to reject it
		return data, nil
	}
}

func sortedConns(counts map[uint32]uint32) []uint32 {
	conns := make([]uint32, 0, len(counts))
	for conn := range counts {
		conns = append(conns, conn)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i] < conns[j] })
	return conns
}

func field(name string, value []byte) []byte {
	out := uint32Bytes(uint32(len(name) + 1 + len(value)))
	out = append(out, name...)
	out = append(out, '=')
	return append(out, value...)
}

func header(fields ...[]byte) []byte {
	return bytes.Join(fields, nil)
}

func record(hdr, data []byte) []byte {
	out := uint32Bytes(uint32(len(hdr)))
	out = append(out, hdr...)
	out = append(out, uint32Bytes(uint32(len(data)))...)
	return append(out, data...)
}

func uint32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	endian.PutUint32(b, v)
	return b
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	endian.PutUint64(b, v)
	return b
}

func timeBytes(t time.Time) []byte {
	b := make([]byte, 8)
	if t.IsZero() {
		return b
	}
	endian.PutUint32(b, uint32(t.Unix()))
	endian.PutUint32(b[4:], uint32(t.Nanosecond()))
	return b
}
