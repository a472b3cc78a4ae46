package client

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/google/uuid"
)

// Frame layout, all integers little endian:
//
//	request:  uint32 length | uint16 resource | uint16 operation | [16]byte activity id | uint64 transport id | headers | payload
//	response: uint32 length | uint32 status                      | [16]byte activity id | uint64 transport id | headers | payload
//	headers:  uint16 count, then per entry uint16 key length, key, uint32 value length, value
//	payload:  uint8 flags, then uint32 body length and body when flags&flagHasBody != 0
//
// length counts the whole frame including the length field itself.
const (
	frameLengthSize     = 4
	requestPreludeSize  = frameLengthSize + 2 + 2 + 16 + 8
	responsePreludeSize = frameLengthSize + 4 + 16 + 8
)

const flagHasBody byte = 0x01

// Wire codes of resource and operation types
const (
	wireResourceConnection        uint16 = 0x0000
	wireResourceDatabase          uint16 = 0x0001
	wireResourceCollection        uint16 = 0x0002
	wireResourceDocument          uint16 = 0x0003
	wireResourceStoredProcedure   uint16 = 0x0008
	wireResourcePartitionKeyRange uint16 = 0x0016

	wireOperationConnection        uint16 = 0x0000
	wireOperationCreate            uint16 = 0x0001
	wireOperationPatch             uint16 = 0x0002
	wireOperationRead              uint16 = 0x0003
	wireOperationReadFeed          uint16 = 0x0004
	wireOperationDelete            uint16 = 0x0005
	wireOperationReplace           uint16 = 0x0006
	wireOperationExecuteJavaScript uint16 = 0x0008
	wireOperationQuery             uint16 = 0x000F
	wireOperationHead              uint16 = 0x0011
	wireOperationHeadFeed          uint16 = 0x0012
	wireOperationUpsert            uint16 = 0x0013
)

var wireResourceTypes = map[model.ResourceType]uint16{
	model.ResourceConnection:        wireResourceConnection,
	model.ResourceDatabase:          wireResourceDatabase,
	model.ResourceCollection:        wireResourceCollection,
	model.ResourceDocument:          wireResourceDocument,
	model.ResourceStoredProcedure:   wireResourceStoredProcedure,
	model.ResourcePartitionKeyRange: wireResourcePartitionKeyRange,
}

var wireOperationTypes = map[model.OperationType]uint16{
	model.OperationCreate:            wireOperationCreate,
	model.OperationPatch:             wireOperationPatch,
	model.OperationRead:              wireOperationRead,
	model.OperationReadFeed:          wireOperationReadFeed,
	model.OperationDelete:            wireOperationDelete,
	model.OperationReplace:           wireOperationReplace,
	model.OperationExecuteJavaScript: wireOperationExecuteJavaScript,
	model.OperationQuery:             wireOperationQuery,
	model.OperationHead:              wireOperationHead,
	model.OperationHeadFeed:          wireOperationHeadFeed,
	model.OperationUpsert:            wireOperationUpsert,
}

// ErrFrameTooLarge is returned when a frame exceeds the configured maximum
var ErrFrameTooLarge = errors.New("rntbd frame exceeds maximum size")

// rntbdRequest is one decoded request frame
type rntbdRequest struct {
	ResourceType  uint16
	OperationType uint16
	ActivityID    uuid.UUID
	TransportID   uint64
	Headers       map[string]string
	Body          []byte
	HasBody       bool
}

// rntbdResponse is one decoded response frame
type rntbdResponse struct {
	Status      uint32
	ActivityID  uuid.UUID
	TransportID uint64
	Headers     map[string]string
	Body        []byte
	HasBody     bool
}

func encodeRequest(r *rntbdRequest) ([]byte, error) {
	size := requestPreludeSize + headersSize(r.Headers) + payloadSize(r.Body, r.HasBody)
	buf := make([]byte, 0, size)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = binary.LittleEndian.AppendUint16(buf, r.ResourceType)
	buf = binary.LittleEndian.AppendUint16(buf, r.OperationType)
	buf = append(buf, r.ActivityID[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, r.TransportID)

	buf, err := appendHeaders(buf, r.Headers)
	if err != nil {
		return nil, err
	}
	return appendPayload(buf, r.Body, r.HasBody), nil
}

func encodeResponse(r *rntbdResponse) ([]byte, error) {
	size := responsePreludeSize + headersSize(r.Headers) + payloadSize(r.Body, r.HasBody)
	buf := make([]byte, 0, size)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = binary.LittleEndian.AppendUint32(buf, r.Status)
	buf = append(buf, r.ActivityID[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, r.TransportID)

	buf, err := appendHeaders(buf, r.Headers)
	if err != nil {
		return nil, err
	}
	return appendPayload(buf, r.Body, r.HasBody), nil
}

// readFrame reads one length-prefixed frame, returning it without the length field
func readFrame(r *bufio.Reader, maxSize int) ([]byte, error) {
	var lengthBuf [frameLengthSize]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}
	length := int(binary.LittleEndian.Uint32(lengthBuf[:]))
	if length < frameLengthSize {
		return nil, fmt.Errorf("invalid rntbd frame length %d", length)
	}
	if maxSize > 0 && length > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxSize)
	}

	frame := make([]byte, length-frameLengthSize)
	if _, err := io.ReadFull(r, frame); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

func decodeRequest(frame []byte) (*rntbdRequest, error) {
	d := frameDecoder{buf: frame}
	r := &rntbdRequest{
		ResourceType:  d.uint16(),
		OperationType: d.uint16(),
		ActivityID:    d.uuid(),
		TransportID:   d.uint64(),
	}
	r.Headers = d.headers()
	r.Body, r.HasBody = d.payload()
	if d.err != nil {
		return nil, fmt.Errorf("malformed rntbd request: %w", d.err)
	}
	return r, nil
}

func decodeResponse(frame []byte) (*rntbdResponse, error) {
	d := frameDecoder{buf: frame}
	r := &rntbdResponse{
		Status:      d.uint32(),
		ActivityID:  d.uuid(),
		TransportID: d.uint64(),
	}
	r.Headers = d.headers()
	r.Body, r.HasBody = d.payload()
	if d.err != nil {
		return nil, fmt.Errorf("malformed rntbd response: %w", d.err)
	}
	return r, nil
}

func headersSize(headers map[string]string) int {
	size := 2
	for k, v := range headers {
		size += 2 + len(k) + 4 + len(v)
	}
	return size
}

func payloadSize(body []byte, hasBody bool) int {
	if !hasBody {
		return 1
	}
	return 1 + 4 + len(body)
}

// appendHeaders writes headers in key order so frames are deterministic
func appendHeaders(buf []byte, headers map[string]string) ([]byte, error) {
	if len(headers) > 0xFFFF {
		return nil, fmt.Errorf("too many rntbd headers: %d", len(headers))
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		if len(k) > 0xFFFF {
			return nil, fmt.Errorf("rntbd header name too long: %d bytes", len(k))
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(keys)))
	for _, k := range keys {
		v := headers[k]
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(k)))
		buf = append(buf, k...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)))
		buf = append(buf, v...)
	}
	return buf, nil
}

func appendPayload(buf, body []byte, hasBody bool) []byte {
	if !hasBody {
		return append(buf, 0)
	}
	buf = append(buf, flagHasBody)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(body)))
	return append(buf, body...)
}

// frameDecoder reads fields sequentially and remembers the first error
type frameDecoder struct {
	buf []byte
	off int
	err error
}

func (d *frameDecoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.err = io.ErrUnexpectedEOF
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *frameDecoder) uint16() uint16 {
	if b := d.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *frameDecoder) uint32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *frameDecoder) uint64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (d *frameDecoder) uuid() uuid.UUID {
	var id uuid.UUID
	if b := d.take(16); b != nil {
		copy(id[:], b)
	}
	return id
}

func (d *frameDecoder) headers() map[string]string {
	count := int(d.uint16())
	headers := make(map[string]string, count)
	for i := 0; i < count && d.err == nil; i++ {
		key := d.take(int(d.uint16()))
		value := d.take(int(d.uint32()))
		if d.err == nil {
			headers[string(key)] = string(value)
		}
	}
	return headers
}

func (d *frameDecoder) payload() ([]byte, bool) {
	flags := d.take(1)
	if flags == nil || flags[0]&flagHasBody == 0 {
		return nil, false
	}
	body := d.take(int(d.uint32()))
	if body == nil {
		return nil, false
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, true
}
