package storage

import (
	"fmt"
	"time"
)

// InstanceKey identifies one nominal occurrence of a series. The start time
// is held as UTC unix milliseconds so that keys built from times with
// different locations or sub-millisecond noise compare equal.
type InstanceKey struct {
	RecurringEventID string
	InstanceStart    int64
}

func NewInstanceKey(recurringEventID string, originalStart time.Time) InstanceKey {
	return InstanceKey{RecurringEventID: recurringEventID, InstanceStart: originalStart.UnixMilli()}
}

// Start returns the original start time in UTC.
func (k InstanceKey) Start() time.Time {
	return time.UnixMilli(k.InstanceStart).UTC()
}

func (k InstanceKey) String() string {
	return fmt.Sprintf("%s:%s", k.RecurringEventID, k.Start().Format(time.RFC3339Nano))
}
