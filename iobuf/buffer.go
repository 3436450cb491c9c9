// Package iobuf implements the runtime's non-contiguous byte buffer: an
// ordered list of byte slices that parsers can Cut/Skip over without
// linearizing, so that reading a frame out of a socket buffer never
// requires copying bytes that are going to be copied again by the codec.
//
// A C++-style reference-counted buffer needs each slice refcounted so
// that a Cut can hand out a slice of the same backing array to more than
// one owner without a copy. In Go the garbage collector already keeps a
// backing array alive for as long as any sub-slice of it is reachable,
// so Buffer shares backing arrays across Cut/Skip without any manual
// refcounting — see DESIGN.md for why that's a faithful translation and
// not a shortcut.
package iobuf

import "io"

// Buffer is an ordered, non-contiguous sequence of byte slices.
type Buffer struct {
	chunks [][]byte
	size   int64
}

// New wraps existing chunks (no copy) into a Buffer.
func New(chunks ...[]byte) *Buffer {
	b := &Buffer{}
	for _, c := range chunks {
		if len(c) == 0 {
			continue
		}
		b.chunks = append(b.chunks, c)
		b.size += int64(len(c))
	}
	return b
}

// Append adds a chunk (no copy) to the tail of the buffer.
func (b *Buffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.chunks = append(b.chunks, chunk)
	b.size += int64(len(chunk))
}

// ByteSize returns the total number of bytes across all chunks.
func (b *Buffer) ByteSize() int64 { return b.size }

// Empty reports whether the buffer holds zero bytes.
func (b *Buffer) Empty() bool { return b.size == 0 }

// Cut splits off the first n bytes as a new Buffer sharing the same
// backing arrays, and advances the receiver past those n bytes in place.
// Precondition: 0 <= n <= b.ByteSize().
func (b *Buffer) Cut(n int64) *Buffer {
	if n < 0 || n > b.size {
		panic("iobuf: Cut out of range")
	}
	if n == 0 {
		return &Buffer{}
	}
	cut := &Buffer{}
	remaining := n
	i := 0
	for ; i < len(b.chunks); i++ {
		c := b.chunks[i]
		if int64(len(c)) <= remaining {
			cut.chunks = append(cut.chunks, c)
			remaining -= int64(len(c))
			if remaining == 0 {
				i++
				break
			}
			continue
		}
		cut.chunks = append(cut.chunks, c[:remaining])
		b.chunks[i] = c[remaining:]
		remaining = 0
		break
	}
	cut.size = n
	b.chunks = b.chunks[i:]
	b.size -= n
	return cut
}

// Skip discards the first n bytes in place without returning them.
func (b *Buffer) Skip(n int64) {
	if n < 0 || n > b.size {
		panic("iobuf: Skip out of range")
	}
	remaining := n
	i := 0
	for ; i < len(b.chunks); i++ {
		c := b.chunks[i]
		if int64(len(c)) <= remaining {
			remaining -= int64(len(c))
			if remaining == 0 {
				i++
				break
			}
			continue
		}
		b.chunks[i] = c[remaining:]
		remaining = 0
		break
	}
	b.chunks = b.chunks[i:]
	b.size -= n
}

// Chunks exposes the underlying slices for zero-copy iteration (e.g. by a
// Writev-style syscall). Callers must not retain chunks past the next
// mutating call on b.
func (b *Buffer) Chunks() [][]byte { return b.chunks }

// Bytes linearizes the buffer into a single contiguous slice. Parsers
// should avoid this except where an underlying library leaves no choice
// (e.g. chunked-transfer decoding) — callers wanting zero-copy access
// should prefer Chunks/WriteTo.
func (b *Buffer) Bytes() []byte {
	if len(b.chunks) == 1 {
		return b.chunks[0]
	}
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// WriteTo implements io.WriterTo, writing chunks in order without copying.
func (b *Buffer) WriteTo(w io.Writer) (n int64, err error) {
	for _, c := range b.chunks {
		var wn int
		wn, err = w.Write(c)
		n += int64(wn)
		if err != nil {
			return
		}
	}
	return
}
