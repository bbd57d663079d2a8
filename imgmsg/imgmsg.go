// Package imgmsg turns sensor_msgs/Image messages into images.
package imgmsg

import (
	"image"
	"image/color"
	"time"

	"github.com/pkg/errors"

	"github.com/lherman-cs/bagextract/rosbag"
)

// MessageType is the ROS type this package decodes.
const MessageType = "sensor_msgs/Image"

var (
	ErrNotAnImage          = errors.New("not a " + MessageType + " message")
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
	ErrConversion          = errors.New("encodings can't be converted")
	ErrUnrepresentable     = errors.New("encoding has no image representation")
	ErrShortBuffer         = errors.New("image data is smaller than its dimensions")
)

type Header struct {
	Seq     uint32    `rosbag:"seq"`
	Stamp   time.Time `rosbag:"stamp"`
	FrameID string    `rosbag:"frame_id"`
}

// Image is a sensor_msgs/Image.
type Image struct {
	Header      Header `rosbag:"header"`
	Height      uint32 `rosbag:"height"`
	Width       uint32 `rosbag:"width"`
	Encoding    string `rosbag:"encoding"`
	IsBigEndian uint8  `rosbag:"is_bigendian"`
	Step        uint32 `rosbag:"step"`
	Data        []byte `rosbag:"data"`
}

// Decode unmarshalls an image message. Data points into the record and is only valid
// until the record is closed.
func Decode(msg *rosbag.RecordMessageData) (*Image, error) {
	if hdr := msg.ConnectionHeader(); hdr.Type != MessageType {
		return nil, errors.Wrapf(ErrNotAnImage, "topic %s has type %s", hdr.Topic, hdr.Type)
	}

	var img Image
	if err := msg.UnmarshallTo(&img); err != nil {
		return nil, errors.Wrap(err, "unmarshalling image")
	}
	return &img, nil
}

// ToImage converts msg to an image in the desired encoding. Passthrough, or the
// message's own encoding, keeps the pixels as recorded. The returned image owns its
// pixels.
//
// Color images become *image.NRGBA or *image.NRGBA64, mono images *image.Gray or
// *image.Gray16, depending on the channel depth of the desired encoding.
func ToImage(msg *Image, desired string) (image.Image, error) {
	src, ok := formats[msg.Encoding]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedEncoding, "source encoding %q", msg.Encoding)
	}

	if desired == Passthrough {
		desired = msg.Encoding
	}

	dst, ok := formats[desired]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedEncoding, "desired encoding %q", desired)
	}

	if desired != msg.Encoding && (src.generic || dst.generic) {
		return nil, errors.Wrapf(ErrConversion, "%s to %s", msg.Encoding, desired)
	}

	if dst.float {
		return nil, errors.Wrapf(ErrUnrepresentable, "%s", desired)
	}

	if err := checkBuffer(msg, src); err != nil {
		return nil, err
	}

	r := pixelReader{
		msg:       msg,
		format:    src,
		bigEndian: msg.IsBigEndian != 0,
	}
	w, h := int(msg.Width), int(msg.Height)
	bounds := image.Rect(0, 0, w, h)

	switch {
	case dst.isColor() && dst.depth == 1:
		out := image.NewNRGBA(bounds)
		forEachPixel(w, h, func(x, y int) {
			c := r.at(x, y, dst)
			out.SetNRGBA(x, y, color.NRGBA{R: uint8(c.R >> 8), G: uint8(c.G >> 8), B: uint8(c.B >> 8), A: uint8(c.A >> 8)})
		})
		return out, nil
	case dst.isColor():
		out := image.NewNRGBA64(bounds)
		forEachPixel(w, h, func(x, y int) {
			out.SetNRGBA64(x, y, r.at(x, y, dst))
		})
		return out, nil
	case dst.depth == 1:
		out := image.NewGray(bounds)
		forEachPixel(w, h, func(x, y int) {
			out.SetGray(x, y, color.Gray{Y: uint8(r.gray(x, y) >> 8)})
		})
		return out, nil
	default:
		out := image.NewGray16(bounds)
		forEachPixel(w, h, func(x, y int) {
			out.SetGray16(x, y, color.Gray16{Y: r.gray(x, y)})
		})
		return out, nil
	}
}

func checkBuffer(msg *Image, f format) error {
	rowLen := uint64(msg.Width) * uint64(f.bytesPerPixel())
	if uint64(msg.Step) < rowLen {
		return errors.Wrapf(ErrShortBuffer, "step %d is smaller than a row of %d pixels of %s", msg.Step, msg.Width, msg.Encoding)
	}

	if msg.Height == 0 {
		return nil
	}

	// the last row doesn't need its padding
	need := uint64(msg.Step)*uint64(msg.Height-1) + rowLen
	if uint64(len(msg.Data)) < need {
		return errors.Wrapf(ErrShortBuffer, "%dx%d %s needs %d bytes, got %d", msg.Width, msg.Height, msg.Encoding, need, len(msg.Data))
	}
	return nil
}

func forEachPixel(w, h int, fn func(x, y int)) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fn(x, y)
		}
	}
}

type pixelReader struct {
	msg       *Image
	format    format
	bigEndian bool
}

// channel returns channel i of the pixel at off scaled to 16 bits.
func (r pixelReader) channel(off, i int) uint16 {
	data := r.msg.Data[off+i*r.format.depth:]
	if r.format.depth == 1 {
		return uint16(data[0]) * 0x101
	}

	if r.bigEndian {
		return uint16(data[0])<<8 | uint16(data[1])
	}
	return uint16(data[1])<<8 | uint16(data[0])
}

func (r pixelReader) offset(x, y int) int {
	return y*int(r.msg.Step) + x*r.format.bytesPerPixel()
}

// at returns the pixel as a color. Alpha is kept only if dst has an alpha channel.
func (r pixelReader) at(x, y int, dst format) color.NRGBA64 {
	off := r.offset(x, y)

	c := color.NRGBA64{A: 0xffff}
	switch r.format.layout {
	case layoutMono:
		v := r.channel(off, 0)
		c.R, c.G, c.B = v, v, v
	case layoutRGB, layoutRGBA:
		c.R, c.G, c.B = r.channel(off, 0), r.channel(off, 1), r.channel(off, 2)
	case layoutBGR, layoutBGRA:
		c.B, c.G, c.R = r.channel(off, 0), r.channel(off, 1), r.channel(off, 2)
	}

	if r.format.hasAlpha() && dst.hasAlpha() {
		c.A = r.channel(off, 3)
	}
	return c
}

// gray returns the luma of the pixel, ignoring alpha.
func (r pixelReader) gray(x, y int) uint16 {
	off := r.offset(x, y)
	if !r.format.isColor() {
		return r.channel(off, 0)
	}

	c := r.at(x, y, format{})
	// same weights as color.Gray16Model
	return uint16((19595*uint32(c.R) + 38470*uint32(c.G) + 7471*uint32(c.B) + 1<<15) >> 16)
}
