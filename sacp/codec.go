package sacp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrShortPayload    = errors.New("payload too short")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrBadLineRange    = errors.New("start line after end line")
)

// All multi-byte fields are little-endian.
var le = binary.LittleEndian

// decoder reads fields from a payload, remembering the first error so that
// callers check once at the end.
type decoder struct {
	b   []byte
	off int
	err error
}

func (d *decoder) need(n int, field string) bool {
	if d.err != nil {
		return false
	}
	if len(d.b)-d.off < n {
		d.err = fmt.Errorf("%w: %s needs %d bytes at offset %d, have %d", ErrShortPayload, field, n, d.off, len(d.b)-d.off)
		return false
	}
	return true
}

func (d *decoder) u8(field string) uint8 {
	if !d.need(1, field) {
		return 0
	}
	v := d.b[d.off]
	d.off++
	return v
}

func (d *decoder) u16(field string) uint16 {
	if !d.need(2, field) {
		return 0
	}
	v := le.Uint16(d.b[d.off:])
	d.off += 2
	return v
}

func (d *decoder) u32(field string) uint32 {
	if !d.need(4, field) {
		return 0
	}
	v := le.Uint32(d.b[d.off:])
	d.off += 4
	return v
}

func (d *decoder) bytes(n int, field string) []byte {
	if !d.need(n, field) {
		return nil
	}
	v := make([]byte, n)
	copy(v, d.b[d.off:])
	d.off += n
	return v
}

// ResultPayload is the payload of a reply that carries only a result.
func ResultPayload(r Result) []byte {
	return []byte{byte(r)}
}

// DecodeResult returns the leading result byte of a reply.
func DecodeResult(p []byte) (Result, error) {
	d := decoder{b: p}
	r := Result(d.u8("result"))
	return r, d.err
}

// FileInfo is the identity of a print file: a content digest and a name.
type FileInfo struct {
	Hash string
	Name string
}

// AppendFileInfo appends the length-prefixed hash and name to b.
func AppendFileInfo(b []byte, fi FileInfo) []byte {
	b = le.AppendUint16(b, uint16(len(fi.Hash)))
	b = append(b, fi.Hash...)
	b = le.AppendUint16(b, uint16(len(fi.Name)))
	b = append(b, fi.Name...)
	return b
}

// DecodeFileInfo decodes a length-prefixed hash and name, as carried by the
// start request.
func DecodeFileInfo(p []byte) (FileInfo, error) {
	d := decoder{b: p}
	fi := decodeFileInfo(&d)
	if d.err != nil {
		return FileInfo{}, fmt.Errorf("file info: %w", d.err)
	}
	return fi, nil
}

func decodeFileInfo(d *decoder) FileInfo {
	hashLen := d.u16("hash length")
	hash := d.bytes(int(hashLen), "hash")
	nameLen := d.u16("name length")
	name := d.bytes(int(nameLen), "name")
	return FileInfo{Hash: string(hash), Name: string(name)}
}

// EncodeFileInfoReply encodes the reply to file info and power-loss status
// queries.
func EncodeFileInfoReply(r Result, fi FileInfo) []byte {
	return AppendFileInfo([]byte{byte(r)}, fi)
}

// DecodeFileInfoReply is the inverse of [EncodeFileInfoReply].  The file
// info is only decoded for successful replies.
func DecodeFileInfoReply(p []byte) (Result, FileInfo, error) {
	d := decoder{b: p}
	r := Result(d.u8("result"))
	if d.err != nil || r != ResultSuccess {
		return r, FileInfo{}, d.err
	}
	fi := decodeFileInfo(&d)
	return r, fi, d.err
}

// BatchRequest is the pull request for the next instruction batch.
type BatchRequest struct {
	Line    uint32 // first line wanted
	MaxSize uint16 // maximum data bytes the firmware can take
}

const batchRequestSize = 6

func (r BatchRequest) Encode() []byte {
	b := make([]byte, 0, batchRequestSize)
	b = le.AppendUint32(b, r.Line)
	return le.AppendUint16(b, r.MaxSize)
}

func DecodeBatchRequest(p []byte) (BatchRequest, error) {
	d := decoder{b: p}
	r := BatchRequest{Line: d.u32("line"), MaxSize: d.u16("max size")}
	if d.err != nil {
		return BatchRequest{}, fmt.Errorf("batch request: %w", d.err)
	}
	return r, nil
}

// Batch flags.
const (
	BatchMore = 0x00
	BatchDone = uint8(ResultStreamDone)
)

// Batch is one chunk of instructions delivered by the host.
type Batch struct {
	Flag      uint8
	StartLine uint32
	EndLine   uint32 // inclusive
	Data      []byte
}

// Last reports whether the batch terminates the stream.
func (b Batch) Last() bool {
	return b.Flag == BatchDone
}

// Lines returns the number of lines in the batch.
func (b Batch) Lines() uint32 {
	return b.EndLine - b.StartLine + 1
}

const batchHeaderSize = 11

// MaxBatchData is the largest batch data that fits in one event.
const MaxBatchData = MaxPayload - batchHeaderSize

func (b Batch) Encode() []byte {
	out := make([]byte, 0, batchHeaderSize+len(b.Data))
	out = append(out, b.Flag)
	out = le.AppendUint32(out, b.StartLine)
	out = le.AppendUint32(out, b.EndLine)
	out = le.AppendUint16(out, uint16(len(b.Data)))
	return append(out, b.Data...)
}

// DecodeBatch decodes a batch, validating the line range and data length.
func DecodeBatch(p []byte) (Batch, error) {
	d := decoder{b: p}
	b := Batch{
		Flag:      d.u8("flag"),
		StartLine: d.u32("start line"),
		EndLine:   d.u32("end line"),
	}
	n := d.u16("data length")
	b.Data = d.bytes(int(n), "data")
	if d.err != nil {
		return Batch{}, fmt.Errorf("batch: %w", d.err)
	}
	if b.StartLine > b.EndLine {
		return Batch{}, fmt.Errorf("batch: %w: %d > %d", ErrBadLineRange, b.StartLine, b.EndLine)
	}
	return b, nil
}

// ResumeReply acknowledges a resume request and tells the host where the
// stream continues.
type ResumeReply struct {
	Result  Result
	Line    uint32
	MaxSize uint16
}

func (r ResumeReply) Encode() []byte {
	b := []byte{byte(r.Result)}
	b = le.AppendUint32(b, r.Line)
	return le.AppendUint16(b, r.MaxSize)
}

func DecodeResumeReply(p []byte) (ResumeReply, error) {
	d := decoder{b: p}
	r := ResumeReply{Result: Result(d.u8("result")), Line: d.u32("line"), MaxSize: d.u16("max size")}
	return r, d.err
}

// EncodeLineReply encodes the reply to the current line query.
func EncodeLineReply(r Result, line uint32) []byte {
	return le.AppendUint32([]byte{byte(r)}, line)
}

func DecodeLineReply(p []byte) (Result, uint32, error) {
	d := decoder{b: p}
	r := Result(d.u8("result"))
	line := d.u32("line")
	return r, line, d.err
}

// feedrateScale is the fixed-point scale of a transmitted percentage.
const feedrateScale = 1000

// FeedrateRequest sets the feed-rate override.
type FeedrateRequest struct {
	Key      uint8
	Extruder uint8
	Percent  float32
}

func (r FeedrateRequest) Encode() []byte {
	b := []byte{r.Key, r.Extruder}
	return le.AppendUint32(b, uint32(int32(math.Round(float64(r.Percent)*feedrateScale))))
}

func DecodeFeedrateRequest(p []byte) (FeedrateRequest, error) {
	d := decoder{b: p}
	r := FeedrateRequest{Key: d.u8("key"), Extruder: d.u8("extruder")}
	r.Percent = float32(int32(d.u32("percentage"))) / feedrateScale
	if d.err != nil {
		return FeedrateRequest{}, fmt.Errorf("feedrate: %w", d.err)
	}
	return r, nil
}

// ExtruderRequest enables or disables a single extruder.
type ExtruderRequest struct {
	Extruder uint8
	Enable   bool
}

func (r ExtruderRequest) Encode() []byte {
	var en byte
	if r.Enable {
		en = 1
	}
	return []byte{r.Extruder, en}
}

func DecodeExtruderRequest(p []byte) (ExtruderRequest, error) {
	d := decoder{b: p}
	r := ExtruderRequest{Extruder: d.u8("extruder"), Enable: d.u8("enable") != 0}
	if d.err != nil {
		return ExtruderRequest{}, fmt.Errorf("extruder: %w", d.err)
	}
	return r, nil
}

// DecodeFlag decodes a single-byte request such as a mode or a toggle.
func DecodeFlag(p []byte) (uint8, error) {
	d := decoder{b: p}
	v := d.u8("value")
	if d.err != nil {
		return 0, d.err
	}
	return v, nil
}

// EncodeUpdateStatusReply encodes the reply to the update status query.
func EncodeUpdateStatusReply(r Result, status uint16, appStart uint32) []byte {
	b := le.AppendUint16([]byte{byte(r)}, status)
	return le.AppendUint32(b, appStart)
}

func DecodeUpdateStatusReply(p []byte) (r Result, status uint16, appStart uint32, err error) {
	d := decoder{b: p}
	r = Result(d.u8("result"))
	status = d.u16("status")
	appStart = d.u32("app start")
	return r, status, appStart, d.err
}

// EncodeFlagReply encodes a reply carrying a result and a boolean.
func EncodeFlagReply(r Result, v bool) []byte {
	var b byte
	if v {
		b = 1
	}
	return []byte{byte(r), b}
}
