package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fragment(data []byte, last bool) []byte {
	h := uint32(len(data))
	if last {
		h |= lastFragmentFlag
	}
	out := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(out, h)
	return append(out, data...)
}

func TestWriteRecordThenRead(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecord(&buf, []byte("hello")))

	header := binary.BigEndian.Uint32(buf.Bytes()[:4])
	assert.Equal(t, uint32(lastFragmentFlag|5), header)

	rec, err := ReadRecord(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), rec)
}

func TestReadRecordReassemblesFragments(t *testing.T) {
	var stream []byte
	stream = append(stream, fragment([]byte("ab"), false)...)
	stream = append(stream, fragment([]byte("cd"), false)...)
	stream = append(stream, fragment([]byte("e"), true)...)

	rec, err := ReadRecord(bytes.NewReader(stream), 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcde"), rec)
}

func TestReadRecordEmptyFinalFragment(t *testing.T) {
	rec, err := ReadRecord(bytes.NewReader(fragment(nil, true)), 0)
	require.NoError(t, err)
	assert.Empty(t, rec)
}

func TestReadRecordRejectsEmptyNonFinalFragment(t *testing.T) {
	_, err := ReadRecord(bytes.NewReader(fragment(nil, false)), 0)
	assert.ErrorIs(t, err, ErrEmptyFragment)
}

func TestReadRecordEnforcesLimitAcrossFragments(t *testing.T) {
	var stream []byte
	stream = append(stream, fragment(make([]byte, 6), false)...)
	stream = append(stream, fragment(make([]byte, 6), true)...)

	_, err := ReadRecord(bytes.NewReader(stream), 10)
	assert.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestReadRecordCleanEOF(t *testing.T) {
	_, err := ReadRecord(bytes.NewReader(nil), 0)
	assert.Equal(t, io.EOF, err)
}

func TestReadRecordTruncatedBody(t *testing.T) {
	stream := fragment([]byte("abcdef"), true)
	_, err := ReadRecord(bytes.NewReader(stream[:6]), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestReadRecordEOFAfterFirstFragment(t *testing.T) {
	stream := fragment([]byte("ab"), false)
	_, err := ReadRecord(bytes.NewReader(stream), 0)
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}
