package sourceio

import (
	"encoding/binary"
	"errors"
	"io"
)

// The frame container format is a simple length-prefixed sequence of JPEG
// images: a 4-byte big-endian length followed by that many payload bytes,
// repeated until EOF.
type containerCodec struct{}

var errTruncatedFrame = errors.New("sourceio: truncated container frame")

// decodeOne reads one length-prefixed JPEG payload from r. Returns io.EOF at
// a clean frame boundary (no partial header read).
func (containerCodec) decodeOne(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errTruncatedFrame
		}
		return nil, err // io.EOF propagates as-is
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errTruncatedFrame
		}
		return nil, err
	}
	return buf, nil
}

// encodeOne writes one length-prefixed JPEG payload to w.
func (containerCodec) encodeOne(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
