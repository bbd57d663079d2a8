package rosbag

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	fuzz "github.com/google/gofuzz"

	"github.com/lherman-cs/bagextract/internal/bagtest"
)

func TestDecoderCheckVersion(t *testing.T) {
	testCases := []struct {
		Name string
		Raw  []byte
		Fail bool
	}{
		{
			Name: "Missing Newline character",
			Raw:  []byte("#ROSBAG V2.0"),
			Fail: true,
		},
		{
			Name: "Unsupported Version",
			Raw:  []byte("#ROSBAG V1.2\n"),
			Fail: true,
		},
		{
			Name: "Not A Rosbag",
			Raw:  []byte("PK\x03\x04\n"),
			Fail: true,
		},
		{
			Name: "Expected Version Format",
			Raw:  []byte("#ROSBAG V2.0\n"),
			Fail: false,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			in := bytes.NewReader(testCase.Raw)
			err := NewDecoder(in).checkVersion()

			if testCase.Fail && err == nil {
				t.Fatal("expected to fail")
			} else if !testCase.Fail && err != nil {
				t.Fatal("expected to succeed")
			}
		})
	}
}

type decodedRecord struct {
	Op    Op
	Topic string
	Data  string
}

func readAll(t *testing.T, raw []byte) []decodedRecord {
	t.Helper()

	var records []decodedRecord
	decoder := NewDecoder(bytes.NewReader(raw))
	for {
		record, err := decoder.Read()
		if err == io.EOF {
			return records
		}
		if err != nil {
			t.Fatal(err)
		}

		op, err := record.Op()
		if err != nil {
			t.Fatal(err)
		}

		decoded := decodedRecord{Op: op}
		switch record := record.(type) {
		case *RecordConnection:
			decoded.Topic, err = record.Topic()
		case *RecordMessageData:
			decoded.Topic = record.Topic()
			decoded.Data = string(record.Data())
		}
		if err != nil {
			t.Fatal(err)
		}

		records = append(records, decoded)
		record.Close()
	}
}

func TestDecoderRead(t *testing.T) {
	for _, compression := range []string{"none", "lz4"} {
		compression := compression
		t.Run(compression, func(t *testing.T) {
			builder := bagtest.New()
			builder.Compression = compression
			a := builder.AddConnection("/a", "std_msgs/String", "", "string data")
			b := builder.AddConnection("/b", "std_msgs/String", "", "string data")
			builder.AddMessage(a, time.Unix(1, 0), []byte("a1"))
			builder.AddMessage(b, time.Unix(2, 0), []byte("b1"))
			builder.NewChunk()
			builder.AddMessage(a, time.Unix(3, 0), []byte("a2"))

			raw, err := builder.Bytes()
			if err != nil {
				t.Fatal(err)
			}

			expected := []decodedRecord{
				{Op: OpBagHeader},
				{Op: OpChunk},
				{Op: OpConnection, Topic: "/a"},
				{Op: OpMessageData, Topic: "/a", Data: "a1"},
				{Op: OpConnection, Topic: "/b"},
				{Op: OpMessageData, Topic: "/b", Data: "b1"},
				{Op: OpIndexData},
				{Op: OpIndexData},
				{Op: OpChunk},
				{Op: OpMessageData, Topic: "/a", Data: "a2"},
				{Op: OpIndexData},
				{Op: OpConnection, Topic: "/a"},
				{Op: OpConnection, Topic: "/b"},
				{Op: OpChunkInfo},
				{Op: OpChunkInfo},
			}
			if diff := cmp.Diff(expected, readAll(t, raw)); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestDecoderReadErrors(t *testing.T) {
	builder := bagtest.New()
	conn := builder.AddConnection("/a", "std_msgs/String", "", "string data")
	builder.AddMessage(conn, time.Unix(1, 0), []byte("a1"))
	valid, err := builder.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	builder.Compression = "zstd"
	unsupported, err := builder.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		Name     string
		Raw      []byte
		Expected error
	}{
		{
			Name:     "Truncated",
			Raw:      valid[:len(valid)-3],
			Expected: io.ErrUnexpectedEOF,
		},
		{
			Name:     "Huge Header Length",
			Raw:      append([]byte("#ROSBAG V2.0\n"), 0xff, 0xff, 0xff, 0x7f, 1, 2, 3),
			Expected: io.ErrUnexpectedEOF,
		},
		{
			Name:     "Unsupported Compression",
			Raw:      unsupported,
			Expected: errUnsupportedCompression,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			decoder := NewDecoder(bytes.NewReader(testCase.Raw))
			for {
				record, err := decoder.Read()
				if err == io.EOF {
					t.Fatal("expected to fail before the end")
				}
				if err != nil {
					if !errors.Is(err, testCase.Expected) {
						t.Fatalf("expected %v, got %v", testCase.Expected, err)
					}
					return
				}
				record.Close()
			}
		})
	}
}

func TestDecoderUnknownConnection(t *testing.T) {
	builder := bagtest.New()
	conn := builder.AddConnection("/a", "std_msgs/String", "", "string data")
	builder.AddMessage(conn, time.Unix(1, 0), []byte("a1"))
	raw, err := builder.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	// renumber the message so that it points to a connection that was never declared
	msgHeader := []byte("conn=")
	msgHeader = append(msgHeader, 0, 0, 0, 0)
	msgHeader = append(msgHeader, []byte("\x0d\x00\x00\x00time=")...)
	idx := bytes.Index(raw, msgHeader)
	if idx == -1 {
		t.Fatal("message header not found")
	}
	raw[idx+len("conn=")] = 9

	decoder := NewDecoder(bytes.NewReader(raw))
	for {
		record, err := decoder.Read()
		if err != nil {
			if !errors.Is(err, errNotFoundConnectionHeader) {
				t.Fatalf("expected unknown connection, got %v", err)
			}
			return
		}
		record.Close()
	}
}

func TestDecoderFuzz(t *testing.T) {
	builder := bagtest.New()
	conn := builder.AddConnection("/camera/rgb/image", bagtest.ImageType, bagtest.ImageMD5Sum, bagtest.ImageDefinition)
	builder.AddMessage(conn, time.Unix(1, 0), bagtest.SolidImage("rgb8", 2, 2, []byte{1, 2, 3}).Marshal())
	valid, err := builder.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	f := fuzz.New().NilChance(0).NumElements(1, 512)
	for i := 0; i < 500; i++ {
		var garbage []byte
		f.Fuzz(&garbage)

		raw := append([]byte(nil), valid...)
		// corrupt a random window past the version line
		off := len("#ROSBAG V2.0\n") + i*7%(len(raw)-len("#ROSBAG V2.0\n"))
		copy(raw[off:], garbage)

		decoder := NewDecoder(bytes.NewReader(raw))
		for j := 0; j < 64; j++ {
			record, err := decoder.Read()
			if err != nil {
				break
			}

			if msg, ok := record.(*RecordMessageData); ok {
				_ = msg.UnmarshallTo(make(map[string]interface{}))
			}
			record.Close()
		}
	}
}
