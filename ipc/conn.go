package ipc

import (
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Sender writes worker responses. Sends are serialized under one mutex so a
// cloned Sender and its owner never interleave frames.
type Sender struct {
	mu  *sync.Mutex
	enc *FrameEncoder
}

// Send encodes and writes a response.
func (s *Sender) Send(resp *Response) error {
	payload, err := msgpack.Marshal(resp)
	if err != nil {
		return &FrameError{Kind: FrameErrorDecode, Msg: "failed to encode response", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.WriteFrame(payload)
}

// SendUploadStatus sends a non-final progress response.
func (s *Sender) SendUploadStatus(current, total uint64) error {
	return s.Send(&Response{
		Type:   ResponseUploadStatus,
		Status: &UploadStatus{Current: current, Total: total},
	})
}

// SendUploadAck sends the final response of a successful upload.
func (s *Sender) SendUploadAck() error {
	return s.Send(&Response{Type: ResponseUpload})
}

// SendEnd acknowledges an end request.
func (s *Sender) SendEnd() error {
	return s.Send(&Response{Type: ResponseEnd})
}

// SendError sends an error response.
func (s *Sender) SendError(message string) error {
	return s.Send(&Response{Type: ResponseError, Message: message})
}

// WorkerConn is the worker end of the control channel.
type WorkerConn struct {
	*Sender
	r   io.Reader
	dec *FrameDecoder
}

// NewWorkerConn creates the worker end over r (requests) and w (responses).
func NewWorkerConn(r io.Reader, w io.Writer) *WorkerConn {
	return &WorkerConn{
		Sender: &Sender{mu: &sync.Mutex{}, enc: NewFrameEncoder(w)},
		r:      r,
		dec:    NewFrameDecoder(r),
	}
}

// ReadControl reads the unframed control byte.
// It must be called before the first Recv.
func (c *WorkerConn) ReadControl() (Unlock, error) {
	var b [1]byte
	if _, err := io.ReadFull(c.r, b[:]); err != nil {
		return 0, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read control byte", Err: err}
	}
	return Unlock(b[0]), nil
}

// Recv reads the next request. io.EOF means the orchestrator closed the
// channel between requests.
func (c *WorkerConn) Recv() (*Request, error) {
	payload, err := c.dec.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodeRequest(payload)
}

// Clone returns a Sender sharing the write side of the connection.
func (c *WorkerConn) Clone() *Sender {
	return &Sender{mu: c.mu, enc: c.enc}
}

// PeerConn is the orchestrator end of the control channel.
type PeerConn struct {
	w   io.Writer
	enc *FrameEncoder
	dec *FrameDecoder
}

// NewPeerConn creates the orchestrator end over w (requests) and r (responses).
func NewPeerConn(w io.Writer, r io.Reader) *PeerConn {
	return &PeerConn{w: w, enc: NewFrameEncoder(w), dec: NewFrameDecoder(r)}
}

// WriteControl writes the unframed control byte.
func (c *PeerConn) WriteControl(b Unlock) error {
	if _, err := c.w.Write([]byte{byte(b)}); err != nil {
		return &FrameError{Kind: FrameErrorWrite, Msg: "failed to write control byte", Err: err}
	}
	return nil
}

// Send encodes and writes a request.
func (c *PeerConn) Send(req *Request) error {
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return &FrameError{Kind: FrameErrorDecode, Msg: "failed to encode request", Err: err}
	}
	return c.enc.WriteFrame(payload)
}

// Recv reads the next response.
func (c *PeerConn) Recv() (*Response, error) {
	payload, err := c.dec.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodeResponse(payload)
}
