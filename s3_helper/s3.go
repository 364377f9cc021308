package s3_helper

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/danthegoodman1/etlpipe/utils"
	"github.com/rs/zerolog"
)

type (
	Config struct {
		Region   string
		Bucket   string
		Endpoint string
	}

	// Store is a bucket-scoped object store client. One is built per pipeline run config.
	Store struct {
		bucket     string
		client     *s3.S3
		uploader   *s3manager.Uploader
		downloader *s3manager.Downloader
	}
)

func NewStore(cfg Config) (*Store, error) {
	s3Config := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewEnvCredentials(),
	}
	if cfg.Endpoint != "" {
		s3Config.Endpoint = aws.String(cfg.Endpoint)
		s3Config.S3ForcePathStyle = aws.Bool(true)
	}

	s3Session, err := session.NewSession(s3Config)
	if err != nil {
		return nil, fmt.Errorf("error making new session: %w", err)
	}

	return &Store{
		bucket:     cfg.Bucket,
		client:     s3.New(s3Session),
		uploader:   s3manager.NewUploader(s3Session),
		downloader: s3manager.NewDownloader(s3Session),
	}, nil
}

func (s *Store) Bucket() string {
	return s.bucket
}

// Put uploads the file at localPath to key.
func (s *Store) Put(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("error in os.Open: %w", err)
	}
	defer f.Close()

	var contentType *string
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		contentType = utils.Ptr(ct)
	}
	_, err = s.WriteBytes(ctx, key, f, contentType)
	return err
}

// Get downloads key into localPath, creating parent directories.
func (s *Store) Get(ctx context.Context, key, localPath string) error {
	logger := zerolog.Ctx(ctx)

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("error in os.Create: %w", err)
	}

	s3Start := time.Now()
	n, err := s.downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		f.Close()
		os.Remove(localPath)
		return fmt.Errorf("error downloading from s3: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error closing %s: %w", localPath, err)
	}

	d := time.Since(s3Start)
	logger.Debug().Str("fileName", key).Int64("bytes", n).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("downloaded file from s3")
	return nil
}

// List returns the keys under prefix whose extension matches one of exts (case-insensitive).
// An empty exts returns every key.
func (s *Store) List(ctx context.Context, prefix string, exts []string) ([]string, error) {
	logger := zerolog.Ctx(ctx)

	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("error listing bucket %s: %w", s.bucket, err)
	}

	if len(keys) == 0 {
		logger.Warn().Str("bucket", s.bucket).Str("prefix", prefix).Msg("no files found")
	}

	return FilterKeys(keys, exts), nil
}

// FilterKeys keeps keys ending in one of exts, ignoring case. Order is preserved.
func FilterKeys(keys, exts []string) []string {
	if len(exts) == 0 {
		return keys
	}
	filtered := make([]string, 0, len(keys))
	for _, k := range keys {
		if utils.HasAnySuffixFold(k, exts) {
			filtered = append(filtered, k)
		}
	}
	return filtered
}

func (s *Store) WriteBytes(ctx context.Context, fileName string, byteStream io.Reader, contentType *string) (*s3manager.UploadOutput, error) {
	logger := zerolog.Ctx(ctx)

	input := &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(fileName),
		Body:        byteStream,
		ContentType: contentType,
	}

	st := time.Now()
	output, err := s.uploader.UploadWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("error uploading to s3: %w", err)
	}

	d := time.Since(st)
	logger.Debug().Str("fileName", fileName).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("uploaded file to s3")

	return output, nil
}
