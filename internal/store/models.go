package store

import "time"

// LabelRow represents a row in the labels table.
type LabelRow struct {
	Seq     int64
	URI     string
	Val     string
	Cts     time.Time
	Neg     bool
	Src     string
	Sig     []byte
	Pinned  bool
	Deleted bool
}
