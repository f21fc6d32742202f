package gpiows

import (
	"sync"
	"time"
)

// ErrorRecord captures the most recent failure observed by any client
// component. The slot is advisory: under concurrent failures the last write
// wins and earlier records are overwritten.
type ErrorRecord struct {
	Kind      int
	Message   string
	Timestamp time.Time
}

type errorSlot struct {
	lock     sync.Mutex
	record   *ErrorRecord
	observer func(ErrorRecord)
}

func newErrorSlot() *errorSlot {
	return &errorSlot{}
}

func (slot *errorSlot) setObserver(observer func(ErrorRecord)) {
	slot.lock.Lock()
	slot.observer = observer
	slot.lock.Unlock()
}

// report overwrites the slot with the given error. The observer, if set, is
// invoked outside the slot lock so it may call back into the client.
func (slot *errorSlot) report(err error) {
	if err == nil {
		return
	}

	record := ErrorRecord{
		Kind:      KindOf(err),
		Message:   err.Error(),
		Timestamp: time.Now(),
	}

	slot.lock.Lock()
	slot.record = &record
	observer := slot.observer
	slot.lock.Unlock()

	if observer != nil {
		observer(record)
	}
}

func (slot *errorSlot) last() (ErrorRecord, bool) {
	slot.lock.Lock()
	defer slot.lock.Unlock()

	if slot.record == nil {
		return ErrorRecord{}, false
	}
	return *slot.record, true
}

func (slot *errorSlot) clear() {
	slot.lock.Lock()
	slot.record = nil
	slot.lock.Unlock()
}
