package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/valter-silva-au/interview-capture/internal/core"
)

// HTTPDispatcher posts artifacts as multipart/form-data to a collector.
type HTTPDispatcher struct {
	Endpoint  string
	FieldName string
	// Timeout bounds one attempt. Zero means no deadline beyond ctx.
	Timeout time.Duration
	Client  *http.Client
	now     func() time.Time
}

// NewHTTPDispatcher creates an HTTPDispatcher. An empty fieldName defaults to "file".
func NewHTTPDispatcher(endpoint, fieldName string, timeout time.Duration) *HTTPDispatcher {
	if fieldName == "" {
		fieldName = "file"
	}
	return &HTTPDispatcher{
		Endpoint:  endpoint,
		FieldName: fieldName,
		Timeout:   timeout,
		Client:    http.DefaultClient,
		now:       time.Now,
	}
}

// Send performs one POST. Any non-2xx status or network failure is returned
// as *core.TransportError.
func (d *HTTPDispatcher) Send(ctx context.Context, artifact *core.UploadArtifact) (*core.Ack, error) {
	if artifact == nil {
		return nil, errors.New("artifact must not be nil")
	}

	body, contentType, err := encodeMultipart(d.FieldName, artifact)
	if err != nil {
		return nil, &core.TransportError{Endpoint: d.Endpoint, Attempts: 1, Err: fmt.Errorf("building request body: %w", err)}
	}

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, body)
	if err != nil {
		return nil, &core.TransportError{Endpoint: d.Endpoint, Attempts: 1, Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			err = core.AbandonedError(err)
		}
		return nil, &core.TransportError{Endpoint: d.Endpoint, Attempts: 1, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &core.TransportError{
			Endpoint:   d.Endpoint,
			StatusCode: resp.StatusCode,
			Attempts:   1,
			Err:        fmt.Errorf("collector responded %s: %s", resp.Status, bytes.TrimSpace(respBody)),
		}
	}

	return &core.Ack{
		StatusCode: resp.StatusCode,
		Location:   resp.Header.Get("Location"),
		Attempts:   1,
		Bytes:      artifact.Size(),
		At:         d.now().UTC(),
	}, nil
}

// encodeMultipart writes the artifact as a single file part carrying the
// artifact's own content type.
func encodeMultipart(field string, artifact *core.UploadArtifact) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, artifact.Filename()))
	header.Set("Content-Type", artifact.ContentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(artifact.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}
