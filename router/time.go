package router

import "time"

// nowMillis returns the current time as milliseconds since the Unix
// epoch, matching Packet.Timestamp's wire representation.
func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// timeSince returns how long ago a wire millisecond timestamp was,
// negative if it is in the future (clock skew).
func timeSince(timestampMillis uint64) time.Duration {
	then := time.UnixMilli(int64(timestampMillis))
	return time.Since(then)
}
