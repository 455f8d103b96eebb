package buffer

import (
	"sync"
)

var TPool = sync.Pool{
	New: func() any {
		b := make([]byte, 128*1024) // 128 KB for fewer syscalls on high-throughput
		return &b
	},
}
