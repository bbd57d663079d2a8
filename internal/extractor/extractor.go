// Package extractor dumps the images of one bag topic into numbered PNG files.
package extractor

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/k0kubun/pp"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lherman-cs/bagextract/imgmsg"
	"github.com/lherman-cs/bagextract/rosbag"
)

// Options describe one extraction run.
type Options struct {
	BagFile   string
	OutputDir string
	Topic     string
	Encoding  string
}

// FileName is the name of the index-th image of the given kind.
func FileName(index int, kind Kind) string {
	return fmt.Sprintf("%06d_%s.png", index, kind)
}

// Extractor writes every image of a topic to OutputDir, in bag order.
type Extractor struct {
	logger *zap.Logger
	writer ImageWriter
	// summary receives a description of the bag before extraction starts.
	summary io.Writer
}

type Option func(*Extractor)

func WithWriter(writer ImageWriter) Option {
	return func(e *Extractor) {
		e.writer = writer
	}
}

// WithSummary prints the bag index to w once the bag is open.
func WithSummary(w io.Writer) Option {
	return func(e *Extractor) {
		e.summary = w
	}
}

func New(logger *zap.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		logger: logger,
		writer: PNGWriter{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run extracts the images and returns how many were written, which on failure is the
// number of files left behind. The output directory must exist. Files are overwritten.
func (e *Extractor) Run(ctx context.Context, opts Options) (written int, err error) {
	kind, err := ClassifyTopic(opts.Topic)
	if err != nil {
		return 0, err
	}

	e.logger.Info("extracting images",
		zap.String("bag", opts.BagFile),
		zap.String("topic", opts.Topic),
		zap.String("output_dir", opts.OutputDir),
		zap.String("encoding", opts.Encoding),
		zap.String("kind", string(kind)),
	)

	bag, err := rosbag.Open(opts.BagFile)
	if err != nil {
		return 0, readError(err, "opening %s", opts.BagFile)
	}
	defer func() {
		if closeErr := bag.Close(); closeErr != nil {
			err = multierr.Append(err, readError(closeErr, "closing %s", opts.BagFile))
		}
	}()

	e.printSummary(bag)

	cursor := bag.Messages(opts.Topic)
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		msg, err := cursor.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, readError(err, "reading %s", opts.BagFile)
		}

		path := filepath.Join(opts.OutputDir, FileName(written, kind))
		err = e.extractOne(msg, opts.Encoding, path)
		msg.Close()
		if err != nil {
			return written, err
		}

		e.logger.Info("wrote image", zap.Int("index", written), zap.String("path", path))
		written++
	}

	e.logger.Info("extraction done", zap.Int("images", written))
	return written, nil
}

func (e *Extractor) extractOne(msg *rosbag.RecordMessageData, encoding, path string) error {
	stamp, err := msg.Time()
	if err != nil {
		return readError(err, "reading message time")
	}
	e.logger.Debug("message", zap.String("topic", msg.Topic()), zap.Time("time", stamp))

	imgMsg, err := imgmsg.Decode(msg)
	if err != nil {
		return decodeError(err, "message at %s", stamp)
	}

	img, err := imgmsg.ToImage(imgMsg, encoding)
	if err != nil {
		return decodeError(err, "converting %s image at %s", imgMsg.Encoding, stamp)
	}

	if err := e.writer.WritePNG(img, path); err != nil {
		return writeError(err, "writing %s", path)
	}
	return nil
}

func (e *Extractor) printSummary(bag *rosbag.Bag) {
	if e.summary == nil {
		return
	}

	info, err := bag.Info()
	if err != nil {
		e.logger.Warn("can't summarize bag", zap.String("bag", bag.Path()), zap.Error(err))
		return
	}

	if _, err := pp.Fprintln(e.summary, info); err != nil {
		e.logger.Warn("can't print bag summary", zap.Error(errors.WithStack(err)))
	}
}
