package samsa

import (
	"sync"
	"time"
)

const (
	workerIdBits = 10
	sequenceBits = 12

	maxWorkerId   = -1 ^ (-1 << workerIdBits)
	sequenceMask  = -1 ^ (-1 << sequenceBits)
	workerIdShift = sequenceBits
	timeShift     = sequenceBits + workerIdBits
)

// 2012-01-01 UTC in milliseconds
const idEpoch int64 = 1325376000000

type IdGenerator interface {
	NextId() int64
}

// IdWorker hands out snowflake ids: milliseconds | worker id | sequence.
type IdWorker struct {
	mu            sync.Mutex
	workerId      int64
	lastTimestamp int64
	sequence      int64

	now func() int64
}

func MakeIdWorker(workerId int) *IdWorker {
	w := &IdWorker{}
	w.workerId = int64(workerId) & maxWorkerId
	w.lastTimestamp = -1
	w.now = func() int64 {
		return time.Now().UnixNano() / int64(time.Millisecond)
	}
	return w
}

func (w *IdWorker) NextId() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	ts := w.now()
	if ts < w.lastTimestamp {
		// clock stepped back, keep counting on the last timestamp
		ts = w.lastTimestamp
	}

	if ts == w.lastTimestamp {
		w.sequence = (w.sequence + 1) & sequenceMask
		if w.sequence == 0 {
			// sequence exhausted in this millisecond
			ts = w.lastTimestamp + 1
		}
	} else {
		w.sequence = 0
	}
	w.lastTimestamp = ts

	return (ts-idEpoch)<<timeShift | w.workerId<<workerIdShift | w.sequence
}
