package rosbag

import (
	"time"
)

// extractTime reads a ROS time: uint32 seconds followed by uint32 nanoseconds.
func extractTime(raw []byte) time.Time {
	sec := endian.Uint32(raw)
	nsec := endian.Uint32(raw[4:])
	return time.Unix(int64(sec), int64(nsec))
}

// extractDuration reads a ROS duration, which unlike time is signed.
func extractDuration(raw []byte) time.Duration {
	sec := int32(endian.Uint32(raw))
	nsec := int32(endian.Uint32(raw[4:]))
	return time.Duration(sec)*time.Second + time.Duration(nsec)
}
