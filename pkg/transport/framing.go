package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/tablerpc/pkg/bufpool"
)

// Record marking (RFC 5531 section 11): each fragment is preceded by a
// 4-byte big-endian header. Bit 31 flags the last fragment of a record and
// the low 31 bits carry the fragment length.
const (
	lastFragmentFlag = 0x80000000
	fragmentLenMask  = 0x7FFFFFFF

	// MaxFragmentSize is the largest fragment WriteRecord emits.
	MaxFragmentSize = fragmentLenMask
)

var (
	// ErrRecordTooLarge is returned when a record exceeds the configured limit.
	ErrRecordTooLarge = errors.New("transport: record too large")

	// ErrEmptyFragment is returned for a zero-length fragment that is not the
	// last one, which could otherwise loop forever.
	ErrEmptyFragment = errors.New("transport: empty non-final fragment")
)

// fragmentHeader is the parsed 4-byte record marker.
type fragmentHeader struct {
	IsLast bool
	Length uint32
}

func readFragmentHeader(r io.Reader) (fragmentHeader, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fragmentHeader{}, err
	}
	h := binary.BigEndian.Uint32(buf[:])
	return fragmentHeader{
		IsLast: h&lastFragmentFlag != 0,
		Length: h & fragmentLenMask,
	}, nil
}

// ReadRecord reads fragments from r until the last one and returns the
// reassembled record. A clean EOF before the first header is returned
// unwrapped so callers can detect a peer disconnect.
func ReadRecord(r io.Reader, maxSize uint32) ([]byte, error) {
	var record []byte
	for first := true; ; first = false {
		h, err := readFragmentHeader(r)
		if err != nil {
			if first && errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read fragment header: %w", err)
		}

		if !h.IsLast && h.Length == 0 {
			return nil, ErrEmptyFragment
		}
		if maxSize > 0 && uint64(len(record))+uint64(h.Length) > uint64(maxSize) {
			return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d",
				ErrRecordTooLarge, uint64(len(record))+uint64(h.Length), maxSize)
		}

		start := len(record)
		record = append(record, make([]byte, h.Length)...)
		if _, err := io.ReadFull(r, record[start:]); err != nil {
			return nil, fmt.Errorf("read fragment body: %w", err)
		}

		if h.IsLast {
			return record, nil
		}
	}
}

// WriteRecord writes data as a single final fragment using one Write call.
func WriteRecord(w io.Writer, data []byte) error {
	if len(data) > MaxFragmentSize {
		return fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(data))
	}

	buf := bufpool.Get(4 + len(data))
	defer bufpool.Put(buf)
	binary.BigEndian.PutUint32(buf, lastFragmentFlag|uint32(len(data)))
	copy(buf[4:], data)

	_, err := w.Write(buf)
	return err
}
