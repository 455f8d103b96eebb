package stream

import (
	"sync"

	"dtltunnel/internal/pkg/buffer"
)

// Splice copies bytes bidirectionally between a and b until either side
// closes (spec §4.5 on_dial_back, §8 P6). Both Streams are closed when
// either half terminates, so a blocked peer never keeps the other half
// alive.
func Splice(a, b *Stream) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		copyHalf(b, a)
		a.Close()
		b.Close()
	}()
	go func() {
		defer wg.Done()
		copyHalf(a, b)
		a.Close()
		b.Close()
	}()

	wg.Wait()
}

// copyHalf copies from src to dst using the Stream-level Read/Write (not
// the raw net.Conn) so any push-backed bytes on src are honored.
func copyHalf(dst, src *Stream) {
	bufp := buffer.TPool.Get().(*[]byte)
	defer buffer.TPool.Put(bufp)
	buf := *bufp

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
		if n == 0 {
			// Read() returns (0, nil) on EOF per the Stream contract.
			return
		}
	}
}
