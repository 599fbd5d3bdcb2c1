package vfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
)

const s3PartSize = 8 << 20 // 8MB, comfortably above the S3 5MB minimum

// S3Config configures an object-store source (S3 or any S3-compatible
// endpoint such as MinIO).
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Driver serves a bucket (optionally under a key prefix) through the AWS
// SDK. Tier status maps from the object storage class; warming maps to
// archive restore.
type S3Driver struct {
	client *s3.Client
	bucket string
	prefix string

	// restorePollInterval is shortened in tests.
	restorePollInterval time.Duration
}

// NewS3Driver builds a driver from config, using the default credential
// chain unless static keys are given.
func NewS3Driver(ctx context.Context, cfg S3Config) (*S3Driver, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Driver{
		client:              client,
		bucket:              cfg.Bucket,
		prefix:              strings.Trim(cfg.Prefix, "/"),
		restorePollInterval: 15 * time.Second,
	}, nil
}

func (d *S3Driver) Capabilities() CapabilitySet {
	return CapabilitySet(CapMultipartUpload | CapPresignedURL | CapTiering)
}

func (d *S3Driver) PartSize() int64 { return s3PartSize }

// key maps a VFS path onto the bucket namespace.
func (d *S3Driver) key(p string) string {
	k := strings.TrimPrefix(NormalizeTarget(p), "/")
	if d.prefix == "" {
		return k
	}
	if k == "" {
		return d.prefix
	}
	return d.prefix + "/" + k
}

func tierFromStorageClass(sc string) TierStatus {
	switch s3types.StorageClass(sc) {
	case "", s3types.StorageClassStandard, s3types.StorageClassExpressOnezone:
		return TierHot
	case s3types.StorageClassStandardIa, s3types.StorageClassIntelligentTiering:
		return TierWarm
	case s3types.StorageClassOnezoneIa:
		return TierCold
	case s3types.StorageClassGlacierIr:
		return TierNearline
	case s3types.StorageClassGlacier, s3types.StorageClassDeepArchive:
		return TierArchive
	default:
		return TierCold
	}
}

func storageClassForTier(t TierStatus) s3types.StorageClass {
	switch t {
	case TierHot:
		return s3types.StorageClassStandard
	case TierWarm:
		return s3types.StorageClassStandardIa
	case TierCold:
		return s3types.StorageClassOnezoneIa
	case TierNearline:
		return s3types.StorageClassGlacierIr
	case TierArchive:
		return s3types.StorageClassGlacier
	default:
		return s3types.StorageClassStandard
	}
}

func (d *S3Driver) Stat(ctx context.Context, p string) (*FileEntry, error) {
	head, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p)),
	})
	if err != nil {
		// An exact key miss may still be a "directory" (common prefix).
		list, lerr := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(d.bucket),
			Prefix:  aws.String(d.key(p) + "/"),
			MaxKeys: aws.Int32(1),
		})
		if lerr == nil && len(list.Contents) > 0 {
			return &FileEntry{Path: NormalizeTarget(p), IsDirectory: true, Tier: TierHot}, nil
		}
		return nil, fmt.Errorf("head %s: %w", p, err)
	}

	tier := tierFromStorageClass(string(head.StorageClass))
	return &FileEntry{
		Path:    NormalizeTarget(p),
		Size:    aws.ToInt64(head.ContentLength),
		Tier:    tier,
		CanWarm: tier != TierHot,
	}, nil
}

func (d *S3Driver) List(ctx context.Context, p string) ([]FileEntry, error) {
	prefix := d.key(p)
	if prefix != "" {
		prefix += "/"
	}

	var entries []FileEntry
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", p, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := path.Base(strings.TrimSuffix(aws.ToString(cp.Prefix), "/"))
			entries = append(entries, FileEntry{
				Path:        DestPath(p, name),
				IsDirectory: true,
				Tier:        TierHot,
			})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue // directory marker
			}
			tier := tierFromStorageClass(string(obj.StorageClass))
			entries = append(entries, FileEntry{
				Path:    DestPath(p, path.Base(key)),
				Size:    aws.ToInt64(obj.Size),
				Tier:    tier,
				CanWarm: tier != TierHot,
			})
		}
	}
	return entries, nil
}

func (d *S3Driver) OpenRange(ctx context.Context, p string, offset, length int64) (io.ReadCloser, error) {
	rng := fmt.Sprintf("bytes=%d-", offset)
	if length >= 0 {
		rng = fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	}
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p)),
		Range:  aws.String(rng),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	return out.Body, nil
}

func (d *S3Driver) BeginWrite(_ context.Context, p string, _ int64) (PartWriter, error) {
	// The multipart upload is created lazily on the first part so the
	// content type can be sniffed from real bytes.
	return &s3PartWriter{driver: d, key: d.key(p)}, nil
}

func (d *S3Driver) ResumeWrite(ctx context.Context, p string, _ int64, token string) (PartWriter, error) {
	w := &s3PartWriter{driver: d, key: d.key(p), uploadID: token}
	parts, err := d.client.ListParts(ctx, &s3.ListPartsInput{
		Bucket:   aws.String(d.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(token),
	})
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	for _, part := range parts.Parts {
		w.completed = append(w.completed, s3types.CompletedPart{
			ETag:       part.ETag,
			PartNumber: part.PartNumber,
		})
	}
	return w, nil
}

func (d *S3Driver) Remove(ctx context.Context, p string) error {
	key := d.key(p)
	// Delete any children first so removing a "directory" works.
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(key + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list children of %s: %w", p, err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		objects := make([]s3types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
		}
		if _, err := d.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(d.bucket),
			Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		}); err != nil {
			return fmt.Errorf("delete children of %s: %w", p, err)
		}
	}

	if _, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

// Rename is a server-side copy plus delete. S3 has no native rename, which
// is exactly why this driver does not advertise CapAtomicRename.
func (d *S3Driver) Rename(ctx context.Context, oldPath, newPath string) error {
	if _, err := d.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		Key:        aws.String(d.key(newPath)),
		CopySource: aws.String(d.bucket + "/" + d.key(oldPath)),
	}); err != nil {
		return fmt.Errorf("copy %s: %w", oldPath, err)
	}
	if _, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(oldPath)),
	}); err != nil {
		return fmt.Errorf("delete %s: %w", oldPath, err)
	}
	return nil
}

func (d *S3Driver) MkdirAll(ctx context.Context, p string) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p) + "/"),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}

// PresignGet returns a presigned download URL for path.
func (d *S3Driver) PresignGet(ctx context.Context, p string, expiry time.Duration) (string, error) {
	presigner := s3.NewPresignClient(d.client)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p)),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", p, err)
	}
	return req.URL, nil
}

// --- TierDriver ---

// Warm issues an archive restore and polls until the object is readable.
// Progress granularity is restore-level only; S3 reports no byte counts.
func (d *S3Driver) Warm(ctx context.Context, p string, priority int, progress func(done, total int64)) error {
	tier := s3types.TierBulk
	switch {
	case priority >= 2:
		tier = s3types.TierExpedited
	case priority == 1:
		tier = s3types.TierStandard
	}

	_, err := d.client.RestoreObject(ctx, &s3.RestoreObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p)),
		RestoreRequest: &s3types.RestoreRequest{
			Days:                 aws.Int32(1),
			GlacierJobParameters: &s3types.GlacierJobParameters{Tier: tier},
		},
	})
	if err != nil && !strings.Contains(err.Error(), "RestoreAlreadyInProgress") {
		return fmt.Errorf("restore %s: %w", p, err)
	}

	ticker := time.NewTicker(d.restorePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		head, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(d.key(p)),
		})
		if err != nil {
			return fmt.Errorf("poll restore %s: %w", p, err)
		}
		restore := aws.ToString(head.Restore)
		if strings.Contains(restore, `ongoing-request="false"`) {
			if progress != nil {
				size := aws.ToInt64(head.ContentLength)
				progress(size, size)
			}
			return nil
		}
	}
}

func (d *S3Driver) SetTier(ctx context.Context, p string, target TierStatus) error {
	key := d.key(p)
	_, err := d.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(d.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(d.bucket + "/" + key),
		StorageClass:      storageClassForTier(target),
		MetadataDirective: s3types.MetadataDirectiveCopy,
	})
	if err != nil {
		return fmt.Errorf("set tier of %s: %w", p, err)
	}
	return nil
}

func (d *S3Driver) RetrievalETA(ctx context.Context, p string) (int64, error) {
	entry, err := d.Stat(ctx, p)
	if err != nil {
		return 0, err
	}
	switch entry.Tier {
	case TierHot:
		return 0, nil
	case TierWarm:
		return 60, nil
	case TierCold:
		return 3600, nil
	case TierNearline:
		return 14400, nil
	default: // archive
		return 43200, nil
	}
}

// s3PartWriter buffers each part and uploads it as one multipart piece.
type s3PartWriter struct {
	driver    *S3Driver
	key       string
	uploadID  string
	completed []s3types.CompletedPart
}

func (w *s3PartWriter) WritePart(ctx context.Context, index int, r io.Reader, size int64) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read part %d: %w", index, err)
	}
	if size >= 0 && int64(len(buf)) != size {
		return fmt.Errorf("part %d: short read %d of %d", index, len(buf), size)
	}

	if w.uploadID == "" {
		contentType := mimetype.Detect(buf).String()
		create, err := w.driver.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(w.driver.bucket),
			Key:         aws.String(w.key),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return fmt.Errorf("create multipart upload: %w", err)
		}
		w.uploadID = aws.ToString(create.UploadId)
	}

	partNumber := int32(index + 1)
	out, err := w.driver.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.driver.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       bytes.NewReader(buf),
	})
	if err != nil {
		return fmt.Errorf("upload part %d: %w", index, err)
	}
	w.completed = append(w.completed, s3types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(partNumber),
	})
	return nil
}

func (w *s3PartWriter) Complete(ctx context.Context) error {
	if w.uploadID == "" {
		// Zero-byte file: nothing was ever uploaded.
		_, err := w.driver.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(w.driver.bucket),
			Key:    aws.String(w.key),
			Body:   bytes.NewReader(nil),
		})
		if err != nil {
			return fmt.Errorf("put empty object: %w", err)
		}
		return nil
	}

	sort.Slice(w.completed, func(i, j int) bool {
		return aws.ToInt32(w.completed[i].PartNumber) < aws.ToInt32(w.completed[j].PartNumber)
	})
	_, err := w.driver.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.driver.bucket),
		Key:             aws.String(w.key),
		UploadId:        aws.String(w.uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: w.completed},
	})
	if err != nil {
		return fmt.Errorf("complete multipart upload: %w", err)
	}
	return nil
}

func (w *s3PartWriter) Abort(ctx context.Context) error {
	if w.uploadID == "" {
		return nil
	}
	_, err := w.driver.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.driver.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
	})
	return err
}

func (w *s3PartWriter) Token() string { return w.uploadID }
