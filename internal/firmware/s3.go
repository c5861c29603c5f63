package firmware

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/ponytojas/go-iot-dashboard/config"
)

// Image describes a firmware binary ready to be pulled by a device
type Image struct {
	URL   string
	CRC32 uint32
	Size  int
}

type objectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Source serves the OTA image from a single S3 object
type S3Source struct {
	objects   objectGetter
	presigner objectPresigner
	bucket    string
	key       string
	expiry    time.Duration
	logger    *zap.Logger
}

// NewS3Source builds a source using the default AWS credential chain
func NewS3Source(ctx context.Context, cfg config.FirmwareConfig, logger *zap.Logger) (*S3Source, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return newS3Source(client, s3.NewPresignClient(client), cfg, logger), nil
}

func newS3Source(objects objectGetter, presigner objectPresigner, cfg config.FirmwareConfig, logger *zap.Logger) *S3Source {
	return &S3Source{
		objects:   objects,
		presigner: presigner,
		bucket:    cfg.Bucket,
		key:       cfg.Key,
		expiry:    cfg.URLExpiry,
		logger:    logger,
	}
}

// Prepare downloads the firmware to compute its CRC32 and returns a
// presigned URL the device can fetch it from.
func (s *S3Source) Prepare(ctx context.Context) (Image, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	}

	out, err := s.objects.GetObject(ctx, input)
	if err != nil {
		return Image{}, fmt.Errorf("failed to fetch s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()

	h := crc32.NewIEEE()
	n, err := io.Copy(h, out.Body)
	if err != nil {
		return Image{}, fmt.Errorf("failed to read firmware: %w", err)
	}

	req, err := s.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return Image{}, fmt.Errorf("failed to presign firmware url: %w", err)
	}

	img := Image{URL: req.URL, CRC32: h.Sum32(), Size: int(n)}
	s.logger.Info("prepared firmware image",
		zap.String("bucket", s.bucket),
		zap.String("key", s.key),
		zap.Uint32("crc32", img.CRC32),
		zap.Int("size", img.Size),
	)
	return img, nil
}
