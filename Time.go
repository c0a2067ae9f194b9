/*
File Name:  Time.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import "time"

// nowMillisBackend returns the current time as milliseconds since the
// Unix epoch, matching Packet.Timestamp's wire representation (mirrors
// router.nowMillis, which is unexported in its own package).
func nowMillisBackend() uint64 {
	return uint64(time.Now().UnixMilli())
}
