package bagtest

import (
	"time"
)

const (
	ImageType   = "sensor_msgs/Image"
	ImageMD5Sum = "060021388200f6f0f447d0fcd9c64743"
)

// ImageDefinition is the message_definition rosbag records for sensor_msgs/Image.
const ImageDefinition = `# This message contains an uncompressed image
# (0, 0) is at top-left corner of image
#

Header header        # Header timestamp should be acquisition time of image

uint32 height         # image height, that is, number of rows
uint32 width          # image width, that is, number of columns

string encoding       # Encoding of pixels -- channel meaning, ordering, size
                      # taken from the list of strings in include/sensor_msgs/image_encodings.h

uint8 is_bigendian    # is this data bigendian?
uint32 step           # Full row length in bytes
uint8[] data          # actual matrix data, size is (step * rows)

================================================================================
MSG: std_msgs/Header
# Standard metadata for higher-level stamped data types.
uint32 seq
#Two-integer timestamp that is expressed as:
# * stamp.sec: seconds (stamp_secs) since epoch (in Python the variable is called 'secs')
# * stamp.nsec: nanoseconds since stamp_secs (in Python the variable is called 'nsecs')
time stamp
#Frame this data is associated with
string frame_id
`

// Image is a sensor_msgs/Image to be serialized into a bag.
type Image struct {
	Seq         uint32
	Stamp       time.Time
	FrameID     string
	Height      uint32
	Width       uint32
	Encoding    string
	IsBigEndian uint8
	Step        uint32
	Data        []byte
}

func (img Image) Marshal() []byte {
	var out []byte
	out = append(out, uint32Bytes(img.Seq)...)
	out = append(out, timeBytes(img.Stamp)...)
	out = appendString(out, img.FrameID)
	out = append(out, uint32Bytes(img.Height)...)
	out = append(out, uint32Bytes(img.Width)...)
	out = appendString(out, img.Encoding)
	out = append(out, img.IsBigEndian)
	out = append(out, uint32Bytes(img.Step)...)
	out = append(out, uint32Bytes(uint32(len(img.Data)))...)
	return append(out, img.Data...)
}

// SolidImage returns a width x height image with every pixel set to pixel, which must
// hold one pixel in the given encoding.
func SolidImage(encoding string, width, height int, pixel []byte) Image {
	step := width * len(pixel)
	data := make([]byte, 0, step*height)
	for i := 0; i < width*height; i++ {
		data = append(data, pixel...)
	}

	return Image{
		FrameID:  "camera",
		Height:   uint32(height),
		Width:    uint32(width),
		Encoding: encoding,
		Step:     uint32(step),
		Data:     data,
	}
}

func appendString(out []byte, s string) []byte {
	out = append(out, uint32Bytes(uint32(len(s)))...)
	return append(out, s...)
}
