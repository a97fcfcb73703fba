package hotstream

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stream(t *testing.T, payloads ...[]byte) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for i, p := range payloads {
		require.NoError(t, WriteFrame(&buf, uint64(i), p))
	}
	return &buf
}

func TestValidateEmptyStream(t *testing.T) {
	n, err := Validate(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestValidateWellFormedStream(t *testing.T) {
	buf := stream(t, []byte("alpha"), []byte("beta"), nil, []byte("delta"))
	n, err := Validate(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)
}

func TestValidateDetectsSequenceGap(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, 0, []byte("a")))
	require.NoError(t, WriteFrame(&buf, 2, []byte("c"))) // skips 1

	_, err := Validate(&buf)
	var de *DiscontinuityError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Msg, "sequence gap")
	assert.Equal(t, uint64(1), de.Frame)
}

func TestValidateDetectsBadMagic(t *testing.T) {
	buf := stream(t, []byte("a"))
	raw := buf.Bytes()
	raw[0] = 'X'

	_, err := Validate(bytes.NewReader(raw))
	var de *DiscontinuityError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Msg, "magic")
}

func TestValidateDetectsTruncatedPayload(t *testing.T) {
	buf := stream(t, []byte("full payload"))
	raw := buf.Bytes()

	_, err := Validate(bytes.NewReader(raw[:len(raw)-3]))
	var de *DiscontinuityError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Msg, "truncated payload")
}

func TestValidateDetectsTruncatedHeader(t *testing.T) {
	buf := stream(t, []byte("a"), []byte("b"))
	raw := buf.Bytes()

	// Cut into the second frame's header.
	_, err := Validate(bytes.NewReader(raw[:headerSize+1+headerSize-2]))
	var de *DiscontinuityError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Msg, "truncated frame header")
	assert.Equal(t, uint64(1), de.Frame)
}

func TestValidateRejectsOversizedPayloadLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, 0, nil))
	raw := buf.Bytes()
	// Forge an absurd length field.
	raw[12], raw[13], raw[14], raw[15] = 0xff, 0xff, 0xff, 0xff

	_, err := Validate(bytes.NewReader(raw))
	var de *DiscontinuityError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Msg, "exceeds limit")
}

func TestValidateOffsetReporting(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, 0, []byte("abc")))
	require.NoError(t, WriteFrame(&buf, 5, []byte("bad seq")))

	_, err := Validate(&buf)
	var de *DiscontinuityError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, int64(headerSize+3), de.Offset)
}
