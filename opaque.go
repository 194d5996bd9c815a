package samsa

import "sync/atomic"

// correlation tokens for master -> slave calls
var opaqueSeq int32

func NextOpaque() int32 {
	return atomic.AddInt32(&opaqueSeq, 1)
}

// ResetOpaque restarts the sequence. Only test harnesses call it.
func ResetOpaque() {
	atomic.StoreInt32(&opaqueSeq, 0)
}
