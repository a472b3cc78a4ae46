package client

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestFrame_RoundTrip(t *testing.T) {
	in := &rntbdRequest{
		ResourceType:  wireResourceDocument,
		OperationType: wireOperationCreate,
		ActivityID:    uuid.New(),
		TransportID:   42,
		Headers:       map[string]string{"x-ms-lsn": "5", "x-ms-session-token": "0:5", "empty": ""},
		Body:          []byte(`{"id":"a"}`),
		HasBody:       true,
	}

	encoded, err := encodeRequest(in)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(encoded)), binary.LittleEndian.Uint32(encoded[:4]))

	frame, err := readFrame(bufio.NewReader(bytes.NewReader(encoded)), 0)
	require.NoError(t, err)
	out, err := decodeRequest(frame)
	require.NoError(t, err)

	assert.Equal(t, in, out)
}

func TestResponseFrame_RoundTripWithoutBody(t *testing.T) {
	in := &rntbdResponse{
		Status:      410,
		ActivityID:  uuid.New(),
		TransportID: 7,
		Headers:     map[string]string{"x-ms-substatus": "1007"},
	}

	encoded, err := encodeResponse(in)
	require.NoError(t, err)

	frame, err := readFrame(bufio.NewReader(bytes.NewReader(encoded)), 0)
	require.NoError(t, err)
	out, err := decodeResponse(frame)
	require.NoError(t, err)

	assert.Equal(t, in.Status, out.Status)
	assert.Equal(t, in.ActivityID, out.ActivityID)
	assert.Equal(t, in.TransportID, out.TransportID)
	assert.Equal(t, in.Headers, out.Headers)
	assert.False(t, out.HasBody)
	assert.Nil(t, out.Body)
}

func TestEncodeRequest_DeterministicHeaderOrder(t *testing.T) {
	req := &rntbdRequest{Headers: map[string]string{"b": "2", "a": "1", "c": "3"}}
	first, err := encodeRequest(req)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := encodeRequest(req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestReadFrame_Errors(t *testing.T) {
	encoded, err := encodeResponse(&rntbdResponse{Status: 200, Body: make([]byte, 100), HasBody: true})
	require.NoError(t, err)

	_, err = readFrame(bufio.NewReader(bytes.NewReader(encoded)), 64)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = readFrame(bufio.NewReader(bytes.NewReader(encoded[:20])), 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = readFrame(bufio.NewReader(bytes.NewReader(nil)), 0)
	assert.ErrorIs(t, err, io.EOF)

	short := binary.LittleEndian.AppendUint32(nil, 2)
	_, err = readFrame(bufio.NewReader(bytes.NewReader(short)), 0)
	assert.Error(t, err)
}

func TestDecodeResponse_Truncated(t *testing.T) {
	encoded, err := encodeResponse(&rntbdResponse{Status: 200, Headers: map[string]string{"k": "v"}})
	require.NoError(t, err)

	// Drop the flags byte and part of the header block
	_, err = decodeResponse(encoded[frameLengthSize : len(encoded)-3])
	assert.Error(t, err)
}
