package imgmsg

import (
	"sort"
)

// Encoding names, as in sensor_msgs/image_encodings.h.
const (
	RGB8   = "rgb8"
	RGBA8  = "rgba8"
	RGB16  = "rgb16"
	RGBA16 = "rgba16"
	BGR8   = "bgr8"
	BGRA8  = "bgra8"
	BGR16  = "bgr16"
	BGRA16 = "bgra16"
	Mono8  = "mono8"
	Mono16 = "mono16"

	Type8UC1  = "8UC1"
	Type8UC3  = "8UC3"
	Type8UC4  = "8UC4"
	Type16UC1 = "16UC1"
	Type32FC1 = "32FC1"

	// Passthrough keeps the encoding the image was recorded with.
	Passthrough = "passthrough"
)

type layout uint8

const (
	layoutMono layout = iota
	layoutRGB
	layoutBGR
	layoutRGBA
	layoutBGRA
)

type format struct {
	layout   layout
	channels int
	// depth is the size of a channel in bytes
	depth int
	// generic formats carry no channel semantics and only convert to themselves
	generic bool
	float   bool
}

func (f format) bytesPerPixel() int {
	return f.channels * f.depth
}

func (f format) hasAlpha() bool {
	return f.layout == layoutRGBA || f.layout == layoutBGRA
}

func (f format) isColor() bool {
	return f.layout != layoutMono
}

var formats = map[string]format{
	RGB8:   {layout: layoutRGB, channels: 3, depth: 1},
	RGBA8:  {layout: layoutRGBA, channels: 4, depth: 1},
	RGB16:  {layout: layoutRGB, channels: 3, depth: 2},
	RGBA16: {layout: layoutRGBA, channels: 4, depth: 2},
	BGR8:   {layout: layoutBGR, channels: 3, depth: 1},
	BGRA8:  {layout: layoutBGRA, channels: 4, depth: 1},
	BGR16:  {layout: layoutBGR, channels: 3, depth: 2},
	BGRA16: {layout: layoutBGRA, channels: 4, depth: 2},
	Mono8:  {layout: layoutMono, channels: 1, depth: 1},
	Mono16: {layout: layoutMono, channels: 1, depth: 2},

	// OpenCV stores 3 and 4 channel buffers in BGR(A) order
	Type8UC1:  {layout: layoutMono, channels: 1, depth: 1, generic: true},
	Type8UC3:  {layout: layoutBGR, channels: 3, depth: 1, generic: true},
	Type8UC4:  {layout: layoutBGRA, channels: 4, depth: 1, generic: true},
	Type16UC1: {layout: layoutMono, channels: 1, depth: 2, generic: true},
	Type32FC1: {layout: layoutMono, channels: 1, depth: 4, generic: true, float: true},
}

// Supported reports whether encoding can be decoded.
func Supported(encoding string) bool {
	_, ok := formats[encoding]
	return ok || encoding == Passthrough
}

// Encodings lists the supported encodings, sorted, followed by Passthrough.
func Encodings() []string {
	names := make([]string, 0, len(formats)+1)
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return append(names, Passthrough)
}
