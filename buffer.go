package nio

import "encoding/binary"

// Buffer is the opaque binary buffer collaborator spec.md's data model
// describes: a fixed-capacity byte store with an absolute limit and a
// relative cursor, 0 <= cursor <= limit <= capacity. Multi-byte getters and
// setters are always big-endian on the wire, independent of host order
// (spec.md §6, and §9's note that a 64-bit getter should be a single native
// read rather than synthesized from two 32-bit reads — Go's uint64 support
// makes that the natural choice here).
//
// Relative operations advance cursor by the width read/written; absolute
// operations take an explicit index and never move cursor. Precondition
// violations return a *Error tagged CodeBufferOverflow/CodeBufferUnderflow
// rather than panicking, since callers (the read/write paths) need to
// recover from them without tearing down the connection.
type Buffer struct {
	data     []byte
	capacity int
	limit    int
	cursor   int
}

// NewBuffer allocates a Buffer with the given capacity. limit starts equal
// to capacity and cursor starts at 0.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity), capacity: capacity, limit: capacity, cursor: 0}
}

// WrapBuffer creates a Buffer over an existing slice without copying;
// capacity and limit are both len(b), cursor starts at 0.
func WrapBuffer(b []byte) *Buffer {
	return &Buffer{data: b, capacity: len(b), limit: len(b), cursor: 0}
}

func (b *Buffer) Capacity() int { return b.capacity }
func (b *Buffer) Limit() int    { return b.limit }
func (b *Buffer) Cursor() int   { return b.cursor }

// SetLimit sets limit. Returns CodeBufferOverflow if limit would violate
// 0 <= limit <= capacity.
func (b *Buffer) SetLimit(limit int) error {
	if limit < 0 || limit > b.capacity {
		return New("buffer.set_limit", CodeBufferOverflow, "limit out of range")
	}
	b.limit = limit
	if b.cursor > b.limit {
		b.cursor = b.limit
	}
	return nil
}

// SetCursor sets cursor. Returns CodeBufferOverflow if cursor would violate
// 0 <= cursor <= limit.
func (b *Buffer) SetCursor(cursor int) error {
	if cursor < 0 || cursor > b.limit {
		return New("buffer.set_cursor", CodeBufferOverflow, "cursor out of range")
	}
	b.cursor = cursor
	return nil
}

// Remaining returns limit - cursor.
func (b *Buffer) Remaining() int { return b.limit - b.cursor }

// HasRemaining reports whether Remaining() > 0.
func (b *Buffer) HasRemaining() bool { return b.cursor < b.limit }

// Reset sets cursor to 0 and limit to capacity.
func (b *Buffer) Reset() {
	b.cursor = 0
	b.limit = b.capacity
}

// Flip sets limit to the current cursor and cursor to 0, the usual
// write-then-read idiom for a staging buffer.
func (b *Buffer) Flip() {
	b.limit = b.cursor
	b.cursor = 0
}

// Clone returns a deep copy sharing no backing storage.
func (b *Buffer) Clone() *Buffer {
	data := make([]byte, len(b.data))
	copy(data, b.data)
	return &Buffer{data: data, capacity: b.capacity, limit: b.limit, cursor: b.cursor}
}

// ToArray returns a copy of the bytes in [0, limit).
func (b *Buffer) ToArray() []byte {
	out := make([]byte, b.limit)
	copy(out, b.data[:b.limit])
	return out
}

// Destroy releases the backing store. The Buffer must not be used
// afterward.
func (b *Buffer) Destroy() { b.data = nil }

// Bytes exposes the backing slice directly for syscall-facing code
// (internal/reactor, internal/writequeue); callers must respect
// cursor/limit themselves.
func (b *Buffer) Bytes() []byte { return b.data }

// Advance moves cursor forward by n, the usual follow-up to a partial OS
// read or write of n bytes starting at cursor. Satisfies
// internal/writequeue.WriteBuffer.
func (b *Buffer) Advance(n int) error {
	return b.SetCursor(b.cursor + n)
}

func checkBounds(op string, at, width, limit int, overflow bool) error {
	if at < 0 || at+width > limit {
		code, msg := CodeBufferUnderflow, "not enough bytes remaining"
		if overflow {
			code, msg = CodeBufferOverflow, "not enough room before limit"
		}
		return New(op, code, msg)
	}
	return nil
}

// GetUint8 / PutUint8 (relative).
func (b *Buffer) GetUint8() (uint8, error) {
	if err := checkBounds("buffer.get_uint8", b.cursor, 1, b.limit, false); err != nil {
		return 0, err
	}
	v := b.data[b.cursor]
	b.cursor++
	return v, nil
}

func (b *Buffer) PutUint8(v uint8) error {
	if err := checkBounds("buffer.put_uint8", b.cursor, 1, b.limit, true); err != nil {
		return err
	}
	b.data[b.cursor] = v
	b.cursor++
	return nil
}

func (b *Buffer) GetInt8() (int8, error) {
	v, err := b.GetUint8()
	return int8(v), err
}

func (b *Buffer) PutInt8(v int8) error { return b.PutUint8(uint8(v)) }

// GetUint8At / PutUint8At (absolute).
func (b *Buffer) GetUint8At(at int) (uint8, error) {
	if err := checkBounds("buffer.get_uint8_at", at, 1, b.limit, false); err != nil {
		return 0, err
	}
	return b.data[at], nil
}

func (b *Buffer) PutUint8At(at int, v uint8) error {
	if err := checkBounds("buffer.put_uint8_at", at, 1, b.limit, true); err != nil {
		return err
	}
	b.data[at] = v
	return nil
}

func (b *Buffer) GetUint16() (uint16, error) {
	if err := checkBounds("buffer.get_uint16", b.cursor, 2, b.limit, false); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(b.data[b.cursor:])
	b.cursor += 2
	return v, nil
}

func (b *Buffer) PutUint16(v uint16) error {
	if err := checkBounds("buffer.put_uint16", b.cursor, 2, b.limit, true); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b.data[b.cursor:], v)
	b.cursor += 2
	return nil
}

func (b *Buffer) GetUint16At(at int) (uint16, error) {
	if err := checkBounds("buffer.get_uint16_at", at, 2, b.limit, false); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b.data[at:]), nil
}

func (b *Buffer) PutUint16At(at int, v uint16) error {
	if err := checkBounds("buffer.put_uint16_at", at, 2, b.limit, true); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b.data[at:], v)
	return nil
}

func (b *Buffer) GetInt16() (int16, error) {
	v, err := b.GetUint16()
	return int16(v), err
}

func (b *Buffer) PutInt16(v int16) error { return b.PutUint16(uint16(v)) }

func (b *Buffer) GetUint32() (uint32, error) {
	if err := checkBounds("buffer.get_uint32", b.cursor, 4, b.limit, false); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(b.data[b.cursor:])
	b.cursor += 4
	return v, nil
}

func (b *Buffer) PutUint32(v uint32) error {
	if err := checkBounds("buffer.put_uint32", b.cursor, 4, b.limit, true); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b.data[b.cursor:], v)
	b.cursor += 4
	return nil
}

func (b *Buffer) GetUint32At(at int) (uint32, error) {
	if err := checkBounds("buffer.get_uint32_at", at, 4, b.limit, false); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b.data[at:]), nil
}

func (b *Buffer) PutUint32At(at int, v uint32) error {
	if err := checkBounds("buffer.put_uint32_at", at, 4, b.limit, true); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b.data[at:], v)
	return nil
}

func (b *Buffer) GetInt32() (int32, error) {
	v, err := b.GetUint32()
	return int32(v), err
}

func (b *Buffer) PutInt32(v int32) error { return b.PutUint32(uint32(v)) }

// GetUint64 / PutUint64 are single native 64-bit reads/writes, per spec.md
// §9's note that a synthesized two-word 64-bit getter is unnecessary when
// the host language has a native 64-bit integer.
func (b *Buffer) GetUint64() (uint64, error) {
	if err := checkBounds("buffer.get_uint64", b.cursor, 8, b.limit, false); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(b.data[b.cursor:])
	b.cursor += 8
	return v, nil
}

func (b *Buffer) PutUint64(v uint64) error {
	if err := checkBounds("buffer.put_uint64", b.cursor, 8, b.limit, true); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b.data[b.cursor:], v)
	b.cursor += 8
	return nil
}

func (b *Buffer) GetUint64At(at int) (uint64, error) {
	if err := checkBounds("buffer.get_uint64_at", at, 8, b.limit, false); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b.data[at:]), nil
}

func (b *Buffer) PutUint64At(at int, v uint64) error {
	if err := checkBounds("buffer.put_uint64_at", at, 8, b.limit, true); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b.data[at:], v)
	return nil
}

func (b *Buffer) GetInt64() (int64, error) {
	v, err := b.GetUint64()
	return int64(v), err
}

func (b *Buffer) PutInt64(v int64) error { return b.PutUint64(uint64(v)) }

// GetBytes reads n bytes relatively into a new slice.
func (b *Buffer) GetBytes(n int) ([]byte, error) {
	if err := checkBounds("buffer.get_bytes", b.cursor, n, b.limit, false); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b.data[b.cursor:b.cursor+n])
	b.cursor += n
	return out, nil
}

// PutBytes writes p relatively.
func (b *Buffer) PutBytes(p []byte) error {
	if err := checkBounds("buffer.put_bytes", b.cursor, len(p), b.limit, true); err != nil {
		return err
	}
	copy(b.data[b.cursor:], p)
	b.cursor += len(p)
	return nil
}
