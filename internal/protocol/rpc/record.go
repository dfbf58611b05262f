package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrRecordTooLarge is wrapped when a reassembled record would exceed the
// configured maximum.
var ErrRecordTooLarge = errors.New("rpc: record exceeds maximum size")

// AppendRecordMark frames msg as a single last fragment.
//
// Per RFC 5531 Section 11 (Record Marking):
// For TCP, RPC messages are preceded by a 4-byte header:
//   - bit 31: Last fragment flag (1 = last fragment)
//   - bits 0-30: Fragment length
func AppendRecordMark(msg []byte) []byte {
	framed := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(framed[:4], lastFragmentBit|uint32(len(msg)))
	copy(framed[4:], msg)
	return framed
}

// WriteFragments writes msg split into fragments of at most fragSize bytes,
// marking only the final one as last. A fragSize <= 0 writes one fragment.
func WriteFragments(w io.Writer, msg []byte, fragSize int) error {
	if fragSize <= 0 || fragSize >= len(msg) {
		_, err := w.Write(AppendRecordMark(msg))
		return err
	}
	for off := 0; off < len(msg); off += fragSize {
		end := min(off+fragSize, len(msg))
		hdr := uint32(end - off)
		if end == len(msg) {
			hdr |= lastFragmentBit
		}
		var mark [4]byte
		binary.BigEndian.PutUint32(mark[:], hdr)
		if _, err := w.Write(mark[:]); err != nil {
			return err
		}
		if _, err := w.Write(msg[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// ReadRecord reads fragments until the last-fragment bit is seen and returns
// the reassembled record.
func ReadRecord(r io.Reader, maxSize int) ([]byte, error) {
	rec, _, _, err := readRecord(r, maxSize)
	return rec, err
}

// readRecord also reports how many fragments were read and whether any byte
// was consumed. A failure after consuming bytes leaves the stream in the
// middle of a record.
func readRecord(r io.Reader, maxSize int) (record []byte, fragments int, consumed bool, err error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxRecordSize
	}

	var mark [4]byte
	for {
		n, err := io.ReadFull(r, mark[:])
		if n > 0 {
			consumed = true
		}
		if err != nil {
			return nil, fragments, consumed, err
		}

		hdr := binary.BigEndian.Uint32(mark[:])
		fragLen := int(hdr & fragmentLenMask)
		if len(record)+fragLen > maxSize {
			return nil, fragments, consumed, fmt.Errorf("%w: %d > %d", ErrRecordTooLarge, len(record)+fragLen, maxSize)
		}

		start := len(record)
		record = append(record, make([]byte, fragLen)...)
		if _, err := io.ReadFull(r, record[start:]); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fragments, consumed, err
		}
		fragments++

		if hdr&lastFragmentBit != 0 {
			return record, fragments, consumed, nil
		}
	}
}
