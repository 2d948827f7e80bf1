package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/justapithecus/airlock/iox"
)

// StatusError is returned for non-2xx HTTP responses from the upload
// endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unknown status code %d", e.Code)
}

// Transport sends one bundle to a destination URL.
type Transport interface {
	Upload(ctx context.Context, dest *url.URL, body io.Reader, size int64) error
}

// S3PutObjectAPI is the subset of the S3 client used by the s3 transport.
type S3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Transports selects a transport by URL scheme.
type Transports struct {
	http *HTTPTransport
	s3   *S3Transport
}

// NewTransports builds the scheme table. A nil client falls back to
// http.DefaultClient; a nil S3 API is loaded from the default AWS
// configuration on first use.
func NewTransports(client *http.Client, s3api S3PutObjectAPI) *Transports {
	return &Transports{
		http: &HTTPTransport{Client: client},
		s3:   &S3Transport{API: s3api},
	}
}

// DestinationURL joins the upload base URL and the job id.
func DestinationURL(base, id string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/" + id)
	if err != nil {
		return nil, fmt.Errorf("invalid upload url: %w", err)
	}
	return u, nil
}

// For returns the transport serving dest.
func (t *Transports) For(dest *url.URL) (Transport, error) {
	switch dest.Scheme {
	case "http", "https":
		return t.http, nil
	case "s3":
		return t.s3, nil
	default:
		return nil, fmt.Errorf("unsupported upload scheme %q", dest.Scheme)
	}
}

// HTTPTransport streams the bundle as the body of a POST request.
type HTTPTransport struct {
	Client *http.Client
}

// Upload implements Transport.
func (t *HTTPTransport) Upload(ctx context.Context, dest *url.URL, body io.Reader, size int64) error {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	counted := iox.NewCountingReader(body)
	var reqBody io.Reader = counted
	if size == 0 {
		reqBody = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed after %d of %d bytes: %w", counted.N(), size, err)
	}
	defer iox.DiscardClose(resp.Body)

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// S3Transport stores the bundle as an object. The destination has the
// form s3://bucket/prefix/<job-id>.
type S3Transport struct {
	API S3PutObjectAPI

	once    sync.Once
	loadErr error
}

func (t *S3Transport) client(ctx context.Context) (S3PutObjectAPI, error) {
	t.once.Do(func() {
		if t.API != nil {
			return
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			t.loadErr = fmt.Errorf("load aws config: %w", err)
			return
		}
		t.API = s3.NewFromConfig(cfg)
	})
	return t.API, t.loadErr
}

// Upload implements Transport.
func (t *S3Transport) Upload(ctx context.Context, dest *url.URL, body io.Reader, size int64) error {
	bucket := dest.Host
	key := strings.TrimPrefix(dest.Path, "/")
	if bucket == "" || key == "" {
		return errors.New("s3 destination needs a bucket and a key")
	}

	api, err := t.client(ctx)
	if err != nil {
		return err
	}

	_, err = api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/x-tar"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
