package ipc

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// RequestType is the type discriminant of orchestrator requests.
type RequestType string

// Request types.
const (
	RequestUpload RequestType = "upload"
	RequestEnd    RequestType = "end"
)

// ResponseType is the type discriminant of worker responses.
type ResponseType string

// Response types.
const (
	ResponseUpload       ResponseType = "upload"
	ResponseUploadStatus ResponseType = "upload_status"
	ResponseEnd          ResponseType = "end"
	ResponseError        ResponseType = "error"
)

// Unlock is the out-of-band control byte sent once the worker is confined.
type Unlock byte

// Control byte values.
const (
	// UnlockNone tells the worker there is nothing to upload.
	UnlockNone Unlock = 0
	// UnlockPath selects the bundle path given on the command line.
	UnlockPath Unlock = 1
	// UnlockCleanPath selects the derived "_clean.tar" path.
	UnlockCleanPath Unlock = 2
)

// UploadRequest asks the worker to upload its open bundle.
type UploadRequest struct {
	ID  string `msgpack:"id"`
	URL string `msgpack:"url"`
}

// Request is an orchestrator to worker message.
type Request struct {
	Type   RequestType    `msgpack:"type"`
	Upload *UploadRequest `msgpack:"upload,omitempty"`
}

// UploadStatus reports upload progress in bytes.
type UploadStatus struct {
	Current uint64 `msgpack:"current"`
	Total   uint64 `msgpack:"total"`
}

// Response is a worker to orchestrator message.
type Response struct {
	Type    ResponseType  `msgpack:"type"`
	Status  *UploadStatus `msgpack:"upload_status,omitempty"`
	Message string        `msgpack:"message,omitempty"`
}

// IsFinal returns true for responses that end a request.
// upload_status is the only non-final response.
func (r *Response) IsFinal() bool {
	return r.Type != ResponseUploadStatus
}

// Err returns the error carried by an error response, nil otherwise.
func (r *Response) Err() error {
	if r.Type != ResponseError {
		return nil
	}
	return &WorkerError{Message: r.Message}
}

// WorkerError is an error reported by the worker in an error response.
type WorkerError struct {
	Message string
}

func (e *WorkerError) Error() string {
	return "worker: " + e.Message
}

// Validate checks that the request is well formed.
func (r *Request) Validate() error {
	switch r.Type {
	case RequestUpload:
		if r.Upload == nil {
			return fmt.Errorf("upload request without payload")
		}
		if r.Upload.ID == "" {
			return fmt.Errorf("upload request without id")
		}
	case RequestEnd:
	default:
		return fmt.Errorf("unknown request type %q", r.Type)
	}
	return nil
}

// Validate checks that the response is well formed.
func (r *Response) Validate() error {
	switch r.Type {
	case ResponseUploadStatus:
		if r.Status == nil {
			return fmt.Errorf("upload_status response without status")
		}
	case ResponseUpload, ResponseEnd, ResponseError:
	default:
		return fmt.Errorf("unknown response type %q", r.Type)
	}
	return nil
}

// DecodeRequest decodes and validates a request payload.
func DecodeRequest(payload []byte) (*Request, error) {
	var req Request
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode request",
			Err:  err,
		}
	}
	if err := req.Validate(); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "invalid request",
			Err:  err,
		}
	}
	return &req, nil
}

// DecodeResponse decodes and validates a response payload.
func DecodeResponse(payload []byte) (*Response, error) {
	var resp Response
	if err := msgpack.Unmarshal(payload, &resp); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode response",
			Err:  err,
		}
	}
	if err := resp.Validate(); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "invalid response",
			Err:  err,
		}
	}
	return &resp, nil
}
