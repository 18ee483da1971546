package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/bytedrift/go-uploadclient/upload"
)

const numControlRetries = 3

// MinS3ChunkSizeBytes is the smallest part size S3 accepts for every part
// except the last one. Configure the orchestrator chunk size accordingly.
const MinS3ChunkSizeBytes = 5 * 1024 * 1024

// S3TransferParams ...
type S3TransferParams struct {
	Region          string
	Bucket          string
	KeyPrefix       string
	AccessKeyID     string
	SecretAccessKey string
	// LocatorTTL is the lifetime of the presigned download URL. Default: 1 hour.
	LocatorTTL time.Duration
}

type s3Session struct {
	key   string
	parts []types.CompletedPart
}

// S3Transfer implements the session initiator, chunk transport and completion
// finalizer over the S3 multipart upload API. The multipart upload ID doubles
// as the session id; the download locator is a presigned GET URL for the
// assembled object.
type S3Transfer struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	ttl     time.Duration
	logger  log.Logger

	mu       sync.Mutex
	sessions map[string]*s3Session
}

// NewS3Transfer creates an S3Transfer using static credentials when provided,
// ambient AWS configuration otherwise.
func NewS3Transfer(ctx context.Context, params S3TransferParams, logger log.Logger) (*S3Transfer, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	client := s3.NewFromConfig(*cfg)
	ttl := params.LocatorTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &S3Transfer{
		client:   client,
		presign:  s3.NewPresignClient(client),
		bucket:   params.Bucket,
		prefix:   params.KeyPrefix,
		ttl:      ttl,
		logger:   logger,
		sessions: map[string]*s3Session{},
	}, nil
}

// Initiate starts a multipart upload for the given file and returns its
// upload ID as the session id.
func (t *S3Transfer) Initiate(ctx context.Context, fileName string, totalSize int64, totalChunks int) (string, error) {
	key := fileName
	if t.prefix != "" {
		key = path.Join(t.prefix, fileName)
	}

	var uploadID string
	err := retry.Times(numControlRetries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		resp, err := t.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(t.bucket),
			Key:         aws.String(key),
			ContentType: aws.String("application/octet-stream"),
		})
		if err != nil {
			return fmt.Errorf("create multipart upload: %w", err), false
		}
		uploadID = aws.ToString(resp.UploadId)
		return nil, true
	})
	if err != nil {
		return "", classifyS3Error("initiate", err)
	}
	if uploadID == "" {
		return "", &upload.ServerError{Operation: "initiate", Message: "empty multipart upload id"}
	}

	t.mu.Lock()
	t.sessions[uploadID] = &s3Session{key: key}
	t.mu.Unlock()

	t.logger.Debugf("Multipart upload %s created for s3://%s/%s", uploadID, t.bucket, key)
	return uploadID, nil
}

// SendChunk uploads one part; the part number is the 1-based chunk index.
func (t *S3Transfer) SendChunk(ctx context.Context, sessionID string, chunk upload.Chunk, body io.Reader, onProgress func(sentBytes int64)) error {
	session, err := t.session(sessionID)
	if err != nil {
		return err
	}

	reader := body
	if onProgress != nil {
		reader = &progressReader{reader: body, report: onProgress}
	}

	resp, err := t.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(session.key),
		UploadId:      aws.String(sessionID),
		PartNumber:    aws.Int32(int32(chunk.Index)),
		Body:          reader,
		ContentLength: aws.Int64(chunk.Size()),
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("chunk %d upload cancelled: %w", chunk.Index, ctx.Err())
		}
		return classifyS3Error(fmt.Sprintf("upload chunk %d", chunk.Index), err)
	}

	t.mu.Lock()
	session.parts = append(session.parts, types.CompletedPart{
		ETag:       resp.ETag,
		PartNumber: aws.Int32(int32(chunk.Index)),
	})
	t.mu.Unlock()

	return nil
}

// Finalize completes the multipart upload and returns a presigned GET URL for
// the assembled object.
func (t *S3Transfer) Finalize(ctx context.Context, sessionID string) (string, error) {
	session, err := t.session(sessionID)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	parts := make([]types.CompletedPart, len(session.parts))
	copy(parts, session.parts)
	t.mu.Unlock()

	err = retry.Times(numControlRetries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := t.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(t.bucket),
			Key:      aws.String(session.key),
			UploadId: aws.String(sessionID),
			MultipartUpload: &types.CompletedMultipartUpload{
				Parts: parts,
			},
		})
		if err != nil {
			return fmt.Errorf("complete multipart upload: %w", err), false
		}
		return nil, true
	})
	if err != nil {
		return "", classifyS3Error("finalize", err)
	}

	// Presigning happens after completion succeeded; re-running the completed
	// upload's CompleteMultipartUpload would fail with NoSuchUpload.
	presigned, err := t.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(session.key),
	}, s3.WithPresignExpires(t.ttl))
	if err != nil {
		return "", classifyS3Error("finalize", fmt.Errorf("presign download url: %w", err))
	}
	locator := presigned.URL

	t.mu.Lock()
	delete(t.sessions, sessionID)
	t.mu.Unlock()

	return locator, nil
}

// Abort discards a session's already-uploaded parts after a failed or
// cancelled attempt, releasing the server-side storage they hold.
func (t *S3Transfer) Abort(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	session, ok := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	t.mu.Unlock()
	if !ok {
		return nil
	}

	_, err := t.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(t.bucket),
		Key:      aws.String(session.key),
		UploadId: aws.String(sessionID),
	})
	if err != nil {
		return classifyS3Error("abort", err)
	}
	return nil
}

func (t *S3Transfer) session(sessionID string) (*s3Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	session, ok := t.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	return session, nil
}

func classifyS3Error(operation string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &upload.ServerError{
			Operation: operation,
			Message:   fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage()),
		}
	}
	return &upload.NetworkError{Operation: operation, Err: err}
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("using statically provided aws credentials")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
