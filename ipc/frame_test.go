package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

// encodeFrame encodes a payload with length prefix.
func encodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

// encodeRequestFrame encodes a request as a framed msgpack payload.
func encodeRequestFrame(req *Request) ([]byte, error) {
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return nil, err
	}
	return encodeFrame(payload), nil
}

func TestFrameDecoder_SingleRequest(t *testing.T) {
	req := &Request{
		Type:   RequestUpload,
		Upload: &UploadRequest{ID: "job-001", URL: "http://analyzer/api/uploadbundle"},
	}

	frame, err := encodeRequestFrame(req)
	if err != nil {
		t.Fatalf("encodeRequestFrame failed: %v", err)
	}

	decoder := NewFrameDecoder(bytes.NewReader(frame))
	payload, err := decoder.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	decoded, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}

	if decoded.Type != RequestUpload {
		t.Errorf("Type = %q, want %q", decoded.Type, RequestUpload)
	}
	if decoded.Upload == nil || decoded.Upload.ID != "job-001" {
		t.Errorf("Upload = %+v, want id job-001", decoded.Upload)
	}
	if decoded.Upload != nil && decoded.Upload.URL != req.Upload.URL {
		t.Errorf("URL = %q, want %q", decoded.Upload.URL, req.Upload.URL)
	}
}

func TestFrameDecoder_MultipleRequests(t *testing.T) {
	requests := []*Request{
		{Type: RequestUpload, Upload: &UploadRequest{ID: "a", URL: "http://x"}},
		{Type: RequestEnd},
	}

	var buf bytes.Buffer
	for _, req := range requests {
		frame, err := encodeRequestFrame(req)
		if err != nil {
			t.Fatalf("encodeRequestFrame failed: %v", err)
		}
		buf.Write(frame)
	}

	decoder := NewFrameDecoder(&buf)
	var decoded []*Request
	for {
		payload, err := decoder.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		req, err := DecodeRequest(payload)
		if err != nil {
			t.Fatalf("DecodeRequest failed: %v", err)
		}
		decoded = append(decoded, req)
	}

	if len(decoded) != len(requests) {
		t.Fatalf("decoded %d requests, want %d", len(decoded), len(requests))
	}
	for i, req := range decoded {
		if req.Type != requests[i].Type {
			t.Errorf("requests[%d].Type = %q, want %q", i, req.Type, requests[i].Type)
		}
	}
}

func TestFrameEncoder_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewFrameEncoder(&buf)

	payloads := [][]byte{[]byte("one"), {}, bytes.Repeat([]byte{0xAB}, 4096)}
	for _, p := range payloads {
		if err := enc.WriteFrame(p); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	dec := NewFrameDecoder(&buf)
	for i, want := range payloads {
		got, err := dec.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame[%d] failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("payload[%d] length = %d, want %d", i, len(got), len(want))
		}
	}
	if _, err := dec.ReadFrame(); err != io.EOF {
		t.Errorf("expected io.EOF after last frame, got: %v", err)
	}
}

func TestFrameEncoder_Oversized(t *testing.T) {
	enc := NewFrameEncoder(io.Discard)
	err := enc.WriteFrame(make([]byte, MaxPayloadSize+1))

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if frameErr.Kind != FrameErrorTooLarge {
		t.Errorf("Kind = %v, want FrameErrorTooLarge", frameErr.Kind)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestFrameEncoder_WriteFailureIsFatal(t *testing.T) {
	err := NewFrameEncoder(failingWriter{}).WriteFrame([]byte("x"))
	if !IsFatalFrameError(err) {
		t.Errorf("expected fatal frame error, got: %v", err)
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("expected wrapped io.ErrClosedPipe, got: %v", err)
	}
}

// TestFrameDecoder_PartialFrame validates fatal error for truncated frames.
func TestFrameDecoder_PartialFrame(t *testing.T) {
	frame, _ := encodeRequestFrame(&Request{Type: RequestEnd})

	truncated := frame[:LengthPrefixSize+len(frame[LengthPrefixSize:])/2]

	decoder := NewFrameDecoder(bytes.NewReader(truncated))
	_, err := decoder.ReadFrame()

	if err == nil {
		t.Fatal("expected error for truncated frame")
	}

	if !IsFatalFrameError(err) {
		t.Errorf("expected fatal frame error, got: %v", err)
	}

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}

	if frameErr.Kind != FrameErrorPartial {
		t.Errorf("Kind = %v, want FrameErrorPartial", frameErr.Kind)
	}
}

func TestFrameDecoder_OversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(MaxPayloadSize+1))

	decoder := NewFrameDecoder(&buf)
	_, err := decoder.ReadFrame()

	if err == nil {
		t.Fatal("expected error for oversized frame")
	}

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}

	if frameErr.Kind != FrameErrorTooLarge {
		t.Errorf("Kind = %v, want FrameErrorTooLarge", frameErr.Kind)
	}
	if !frameErr.IsFatal() {
		t.Error("FrameErrorTooLarge.IsFatal() should return true")
	}
}

func TestFrameDecoder_EmptyStream(t *testing.T) {
	decoder := NewFrameDecoder(bytes.NewReader(nil))
	_, err := decoder.ReadFrame()

	if err != io.EOF {
		t.Errorf("expected io.EOF, got: %v", err)
	}
}

func TestFrameDecoder_TruncatedLengthPrefix(t *testing.T) {
	decoder := NewFrameDecoder(bytes.NewReader([]byte{0x00, 0x00}))
	_, err := decoder.ReadFrame()

	if !IsFatalFrameError(err) {
		t.Errorf("expected fatal frame error, got: %v", err)
	}
}

// TestFrameDecoder_MalformedMsgpack validates that a whole frame with a bad
// payload is a non-fatal decode error.
func TestFrameDecoder_MalformedMsgpack(t *testing.T) {
	frame := encodeFrame([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF})

	decoder := NewFrameDecoder(bytes.NewReader(frame))
	payload, err := decoder.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	_, err = DecodeRequest(payload)
	if err == nil {
		t.Fatal("expected decode error for malformed msgpack")
	}

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if frameErr.Kind != FrameErrorDecode {
		t.Errorf("Kind = %v, want FrameErrorDecode", frameErr.Kind)
	}
	if IsFatalFrameError(err) {
		t.Error("decode errors should not be fatal")
	}
}

func TestFrameError_ErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *FrameError
		contains string
	}{
		{
			name:     "partial without underlying error",
			err:      &FrameError{Kind: FrameErrorPartial, Msg: "truncated"},
			contains: "truncated",
		},
		{
			name: "partial with underlying error",
			err: &FrameError{
				Kind: FrameErrorPartial,
				Msg:  "read failed",
				Err:  io.ErrUnexpectedEOF,
			},
			contains: "unexpected EOF",
		},
		{
			name:     "oversized",
			err:      &FrameError{Kind: FrameErrorTooLarge, Msg: "payload too big"},
			contains: "too big",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			if !bytes.Contains([]byte(msg), []byte(tt.contains)) {
				t.Errorf("error message %q does not contain %q", msg, tt.contains)
			}
		})
	}
}

func TestFrameErrorKind_String(t *testing.T) {
	tests := []struct {
		kind FrameErrorKind
		want string
	}{
		{FrameErrorPartial, "partial"},
		{FrameErrorTooLarge, "too_large"},
		{FrameErrorDecode, "decode"},
		{FrameErrorWrite, "write"},
		{FrameErrorKind(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("FrameErrorKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestIsFatalFrameError_NonFrameError(t *testing.T) {
	if IsFatalFrameError(errors.New("regular error")) {
		t.Error("regular errors should not be fatal frame errors")
	}
	if IsFatalFrameError(nil) {
		t.Error("nil should not be a fatal frame error")
	}
	if IsFatalFrameError(io.EOF) {
		t.Error("io.EOF should not be a fatal frame error")
	}
}
