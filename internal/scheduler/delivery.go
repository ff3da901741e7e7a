package scheduler

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/compliance"
	"github.com/trailguard/trailguard/internal/domain/errors"
	"github.com/trailguard/trailguard/internal/domain/report"
	"github.com/trailguard/trailguard/internal/infrastructure/config"
)

// Deliverer pushes a finished export to one channel type.
type Deliverer interface {
	Channel() report.DeliveryChannel
	Deliver(ctx context.Context, d report.Delivery, res *compliance.ExportResult) error
}

// EmailDeliverer sends the export as an SMTP attachment.
type EmailDeliverer struct {
	cfg    config.SMTPConfig
	logger *zap.Logger
	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailDeliverer validates SMTP configuration.
func NewEmailDeliverer(cfg config.SMTPConfig, logger *zap.Logger) (*EmailDeliverer, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.NewConfigError("email delivery requires smtp host and from address")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	return &EmailDeliverer{cfg: cfg, logger: logger, send: smtp.SendMail}, nil
}

func (e *EmailDeliverer) Channel() report.DeliveryChannel { return report.DeliveryEmail }

func (e *EmailDeliverer) Deliver(ctx context.Context, d report.Delivery, res *compliance.ExportResult) error {
	if err := ctx.Err(); err != nil {
		return errors.NewNetworkError("email delivery cancelled").WithCause(err)
	}
	msg, err := buildMessage(e.cfg.From, d.Recipients, res)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	if err := e.send(addr, auth, e.cfg.From, d.Recipients, msg); err != nil {
		return errors.NewNetworkError("smtp delivery failed").WithCause(err)
	}
	e.logger.Info("report delivered by email",
		zap.Int("recipients", len(d.Recipients)),
		zap.String("filename", res.Filename))
	return nil
}

// buildMessage assembles a multipart MIME message with the export attached.
func buildMessage(from string, to []string, res *compliance.ExportResult) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: Compliance report %s\r\n", res.Filename)
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mw.Boundary())

	body, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, errors.NewInternalError("failed to build email body").WithCause(err)
	}
	fmt.Fprintf(body, "Attached: %s (%d bytes, sha256 %s)\r\n",
		res.Filename, len(res.Data), res.SHA256)

	attachment, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {res.ContentType},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf(`attachment; filename=%q`, res.Filename)},
	})
	if err != nil {
		return nil, errors.NewInternalError("failed to build email attachment").WithCause(err)
	}
	encoded := base64.StdEncoding.EncodeToString(res.Data)
	for len(encoded) > 76 {
		attachment.Write([]byte(encoded[:76] + "\r\n"))
		encoded = encoded[76:]
	}
	attachment.Write([]byte(encoded + "\r\n"))

	if err := mw.Close(); err != nil {
		return nil, errors.NewInternalError("failed to finalize email").WithCause(err)
	}
	return buf.Bytes(), nil
}

// WebhookDeliverer posts the export to the configured URL.
type WebhookDeliverer struct {
	client *http.Client
	logger *zap.Logger
}

// NewWebhookDeliverer builds a webhook deliverer with the given timeout.
func NewWebhookDeliverer(timeout time.Duration, logger *zap.Logger) *WebhookDeliverer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookDeliverer{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (w *WebhookDeliverer) Channel() report.DeliveryChannel { return report.DeliveryWebhook }

func (w *WebhookDeliverer) Deliver(ctx context.Context, d report.Delivery, res *compliance.ExportResult) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(res.Data))
	if err != nil {
		return errors.NewInternalError("failed to build webhook request").WithCause(err)
	}
	req.Header.Set("Content-Type", res.ContentType)
	req.Header.Set("X-Report-Filename", res.Filename)
	req.Header.Set("X-Report-Checksum", res.SHA256)
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.NewNetworkError("webhook delivery failed").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewNetworkError(
			fmt.Sprintf("webhook returned status %d", resp.StatusCode))
	}
	w.logger.Info("report delivered by webhook",
		zap.String("url", d.URL), zap.String("filename", res.Filename))
	return nil
}

// objectPutter is the slice of the S3 API storage delivery needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// StorageDeliverer writes exports to a filesystem directory or an S3 bucket.
type StorageDeliverer struct {
	cfg    config.StorageDeliveryConfig
	logger *zap.Logger

	s3Client objectPutter
}

// NewStorageDeliverer builds a storage deliverer. The S3 client is lazy: it
// is only constructed on the first s3 delivery, so local-only deployments
// need no AWS credentials.
func NewStorageDeliverer(cfg config.StorageDeliveryConfig, logger *zap.Logger) *StorageDeliverer {
	if cfg.LocalDir == "" {
		cfg.LocalDir = "exports"
	}
	return &StorageDeliverer{cfg: cfg, logger: logger}
}

func (s *StorageDeliverer) Channel() report.DeliveryChannel { return report.DeliveryStorage }

func (s *StorageDeliverer) Deliver(ctx context.Context, d report.Delivery, res *compliance.ExportResult) error {
	switch d.Provider {
	case "local":
		return s.deliverLocal(d, res)
	case "s3":
		return s.deliverS3(ctx, d, res)
	case "gcs", "azure":
		return errors.NewConfigError("storage provider " + d.Provider + " is not supported")
	}
	return errors.NewConfigError("unknown storage provider " + d.Provider)
}

func (s *StorageDeliverer) deliverLocal(d report.Delivery, res *compliance.ExportResult) error {
	dir := filepath.Join(s.cfg.LocalDir, d.Prefix)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.NewInternalError("failed to create export directory").WithCause(err)
	}
	path := filepath.Join(dir, res.Filename)
	if err := os.WriteFile(path, res.Data, 0o640); err != nil {
		return errors.NewInternalError("failed to write export file").WithCause(err)
	}
	s.logger.Info("report delivered to local storage", zap.String("path", path))
	return nil
}

func (s *StorageDeliverer) deliverS3(ctx context.Context, d report.Delivery, res *compliance.ExportResult) error {
	if d.Bucket == "" {
		return errors.NewConfigError("s3 delivery requires a bucket")
	}
	client, err := s.s3(ctx)
	if err != nil {
		return err
	}
	key := res.Filename
	if d.Prefix != "" {
		key = strings.TrimSuffix(d.Prefix, "/") + "/" + key
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(res.Data),
		ContentType: aws.String(res.ContentType),
	})
	if err != nil {
		return errors.NewNetworkError("s3 upload failed").WithCause(err)
	}
	s.logger.Info("report delivered to s3",
		zap.String("bucket", d.Bucket), zap.String("key", key))
	return nil
}

func (s *StorageDeliverer) s3(ctx context.Context) (objectPutter, error) {
	if s.s3Client != nil {
		return s.s3Client, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if s.cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(s.cfg.S3Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.NewConfigError("failed to load aws configuration").WithCause(err)
	}
	s.s3Client = s3.NewFromConfig(awsCfg)
	return s.s3Client, nil
}
