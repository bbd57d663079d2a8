package rosbag

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// ErrUnindexed is returned by Info for bags that were never closed properly by their writer.
var ErrUnindexed = errors.New("rosbag has no index")

// Bag is an open bag file. Messages are read sequentially by a single Cursor.
type Bag struct {
	path    string
	file    *os.File
	size    int64
	decoder *Decoder
	header  *RecordBagHeader
	cursor  *Cursor
	closed  bool
}

// Open opens path, checks the format version and reads the bag header record.
func Open(path string) (*Bag, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	bag, err := newBag(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return bag, nil
}

func newBag(path string, f *os.File) (*Bag, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	decoder := NewDecoder(f)
	record, err := decoder.Read()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%s: reading bag header: %w", path, err)
	}

	header, ok := record.(*RecordBagHeader)
	if !ok {
		record.Close()
		return nil, fmt.Errorf("%s: first record is not a bag header", path)
	}

	return &Bag{
		path:    path,
		file:    f,
		size:    stat.Size(),
		decoder: decoder,
		header:  header,
	}, nil
}

func (bag *Bag) Path() string {
	return bag.path
}

func (bag *Bag) Header() *RecordBagHeader {
	return bag.header
}

// Messages returns a cursor over the message data records of topics, in file order.
// Without topics every message is returned. A bag is read once, so later calls return
// the same cursor.
func (bag *Bag) Messages(topics ...string) *Cursor {
	if bag.cursor != nil {
		return bag.cursor
	}

	var filter map[string]struct{}
	if len(topics) > 0 {
		filter = make(map[string]struct{}, len(topics))
		for _, topic := range topics {
			filter[topic] = struct{}{}
		}
	}

	bag.cursor = &Cursor{
		bag:    bag,
		topics: filter,
	}
	return bag.cursor
}

// Close releases the file. It's safe to call Close more than once.
func (bag *Bag) Close() error {
	if bag.closed {
		return nil
	}

	bag.closed = true
	bag.header.Close()
	return bag.file.Close()
}

// Cursor walks forward through the messages of a bag.
type Cursor struct {
	bag    *Bag
	topics map[string]struct{}
	done   error
}

// Next returns the next matching message. The caller owns the record and must Close it.
// At the end of the bag Next returns io.EOF, and keeps returning the first error it hit.
func (cursor *Cursor) Next() (*RecordMessageData, error) {
	if cursor.done != nil {
		return nil, cursor.done
	}

	if cursor.bag.closed {
		cursor.done = os.ErrClosed
		return nil, cursor.done
	}

	for {
		record, err := cursor.bag.decoder.Read()
		if err != nil {
			cursor.done = err
			return nil, err
		}

		msg, ok := record.(*RecordMessageData)
		if !ok || !cursor.match(msg) {
			record.Close()
			continue
		}
		return msg, nil
	}
}

func (cursor *Cursor) match(msg *RecordMessageData) bool {
	if cursor.topics == nil {
		return true
	}

	_, ok := cursor.topics[msg.Topic()]
	return ok
}

// TopicInfo summarizes one topic of a bag.
type TopicInfo struct {
	Topic       string
	Type        string
	MD5Sum      string
	Messages    uint64
	Connections int
}

// Info summarizes a bag from its index section.
type Info struct {
	Path     string
	Version  string
	Size     int64
	Start    time.Time
	End      time.Time
	Duration time.Duration
	Messages uint64
	Chunks   int
	Topics   []TopicInfo
}

// Info reads the index section. It uses its own reader so it can be called at any
// point while messages are being read.
func (bag *Bag) Info() (*Info, error) {
	if bag.closed {
		return nil, os.ErrClosed
	}

	indexPos, err := bag.header.IndexPos()
	if err != nil {
		return nil, err
	}

	if indexPos == 0 || int64(indexPos) >= bag.size {
		return nil, ErrUnindexed
	}

	section := io.NewSectionReader(bag.file, int64(indexPos), bag.size-int64(indexPos))
	decoder := newIndexDecoder(section)

	info := Info{
		Path:    bag.path,
		Version: supportedVersion.String(),
		Size:    bag.size,
	}
	counts := make(map[uint32]uint64)
	for {
		record, err := decoder.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: reading index: %w", bag.path, err)
		}

		if chunkInfo, ok := record.(*RecordChunkInfo); ok {
			err = info.addChunk(chunkInfo, counts)
		}
		record.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: reading chunk info: %w", bag.path, err)
		}
	}

	topics := make(map[string]*TopicInfo)
	for conn, hdr := range decoder.Connections() {
		topic, ok := topics[hdr.Topic]
		if !ok {
			topic = &TopicInfo{Topic: hdr.Topic, Type: hdr.Type, MD5Sum: hdr.MD5Sum}
			topics[hdr.Topic] = topic
		}
		topic.Connections++
		topic.Messages += counts[conn]
	}

	for _, topic := range topics {
		info.Topics = append(info.Topics, *topic)
	}
	sort.Slice(info.Topics, func(i, j int) bool {
		return info.Topics[i].Topic < info.Topics[j].Topic
	})

	if !info.Start.IsZero() {
		info.Duration = info.End.Sub(info.Start)
	}
	return &info, nil
}

func (info *Info) addChunk(chunkInfo *RecordChunkInfo, counts map[uint32]uint64) error {
	start, err := chunkInfo.StartTime()
	if err != nil {
		return err
	}

	end, err := chunkInfo.EndTime()
	if err != nil {
		return err
	}

	chunkCounts, err := chunkInfo.MessageCounts()
	if err != nil {
		return err
	}

	info.Chunks++

	var total uint64
	for conn, count := range chunkCounts {
		counts[conn] += uint64(count)
		total += uint64(count)
	}
	if total == 0 {
		// the times of an empty chunk mean nothing
		return nil
	}

	if info.Messages == 0 || start.Before(info.Start) {
		info.Start = start
	}
	if info.Messages == 0 || end.After(info.End) {
		info.End = end
	}
	info.Messages += total
	return nil
}
