package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/valter-silva-au/interview-capture/internal/core"
)

// S3API is the subset of the S3 client used to store recordings.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Dispatcher stores artifacts as objects under bucket/prefix.
type S3Dispatcher struct {
	Client  S3API
	Bucket  string
	Prefix  string
	Timeout time.Duration
	now     func() time.Time
}

// NewS3Dispatcher creates an S3Dispatcher using the default AWS credential chain.
func NewS3Dispatcher(ctx context.Context, bucket, prefix string, timeout time.Duration) (*S3Dispatcher, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return NewS3DispatcherWithClient(s3.NewFromConfig(cfg), bucket, prefix, timeout), nil
}

// NewS3DispatcherWithClient creates an S3Dispatcher around an existing client.
func NewS3DispatcherWithClient(client S3API, bucket, prefix string, timeout time.Duration) *S3Dispatcher {
	return &S3Dispatcher{
		Client:  client,
		Bucket:  bucket,
		Prefix:  strings.Trim(prefix, "/"),
		Timeout: timeout,
		now:     time.Now,
	}
}

// ObjectKey returns the key an artifact is stored under:
// <prefix>/<session-id>/<kind><ext>.
func (d *S3Dispatcher) ObjectKey(a *core.UploadArtifact) string {
	name := strings.TrimPrefix(a.Filename(), a.SessionID+"-")
	return path.Join(d.Prefix, a.SessionID, name)
}

// Send uploads the artifact with one PutObject call.
func (d *S3Dispatcher) Send(ctx context.Context, artifact *core.UploadArtifact) (*core.Ack, error) {
	if artifact == nil {
		return nil, errors.New("artifact must not be nil")
	}
	endpoint := "s3://" + d.Bucket
	key := d.ObjectKey(artifact)

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	_, err := d.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(artifact.Data),
		ContentType:   aws.String(artifact.ContentType),
		ContentLength: aws.Int64(int64(artifact.Size())),
		Metadata: map[string]string{
			"session-id": artifact.SessionID,
			"kind":       string(artifact.Kind),
		},
	})
	if err != nil {
		te := &core.TransportError{Endpoint: endpoint, Attempts: 1, Err: err}
		var re *awshttp.ResponseError
		if errors.As(err, &re) {
			te.StatusCode = re.HTTPStatusCode()
		}
		if errors.Is(err, context.Canceled) {
			te.Err = core.AbandonedError(err)
		}
		return nil, te
	}

	return &core.Ack{
		StatusCode: 200,
		Location:   endpoint + "/" + key,
		Attempts:   1,
		Bytes:      artifact.Size(),
		At:         d.now().UTC(),
	}, nil
}
