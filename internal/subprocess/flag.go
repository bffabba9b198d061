package subprocess

import "sync/atomic"

func setFlag(f *int32) {
	atomic.StoreInt32(f, 1)
}

func loadFlag(f *int32) bool {
	return atomic.LoadInt32(f) == 1
}
