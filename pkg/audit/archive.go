package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

const ndjsonContentType = "application/x-ndjson"

// ArchiveConfig configures the object storage sink.
type ArchiveConfig struct {
	Bucket string `json:"bucket" yaml:"bucket" env:"BUCKET" envDefault:"gateway-audit"`

	// Prefix is prepended to every object name.
	Prefix string `json:"prefix" yaml:"prefix" env:"PREFIX" envDefault:"audit"`

	// BatchSize is how many events fill one object.
	BatchSize int `json:"batch_size" yaml:"batch_size" env:"BATCH_SIZE" envDefault:"500"`

	// FlushInterval uploads a partial batch. Zero flushes only on size and
	// shutdown.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval" env:"FLUSH_INTERVAL" envDefault:"1m"`
}

func (c *ArchiveConfig) validate() error {
	if c.Bucket == "" {
		return sserr.New(sserr.CodeValidation, "audit: archive bucket is required")
	}
	if c.BatchSize <= 0 {
		return sserr.Newf(sserr.CodeValidation, "audit: archive batch_size must be positive, got %d", c.BatchSize)
	}
	if c.FlushInterval < 0 {
		return sserr.Newf(sserr.CodeValidation, "audit: archive flush_interval must not be negative, got %v", c.FlushInterval)
	}
	return nil
}

// ObjectWriter uploads objects. The Client in pkg/clients/minio satisfies
// it.
type ObjectWriter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ArchiveSink batches events as newline-delimited JSON and uploads each
// batch as one object named <prefix>/YYYY/MM/DD/<time>-<uuid>.jsonl. A
// failed upload drops its batch; the error reaches [Recorder], which counts
// it.
type ArchiveSink struct {
	objects ObjectWriter
	cfg     ArchiveConfig
	logger  *slog.Logger
	now     func() time.Time

	mu  sync.Mutex
	buf bytes.Buffer
	n   int
}

// NewArchiveSink returns a sink writing through objects.
func NewArchiveSink(objects ObjectWriter, cfg ArchiveConfig, logger *slog.Logger) *ArchiveSink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	return &ArchiveSink{objects: objects, cfg: cfg, logger: logger, now: time.Now}
}

// Record implements [Sink]. It uploads synchronously when the event fills
// the batch.
func (s *ArchiveSink) Record(ctx context.Context, e models.Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "audit: encode event failed")
	}

	s.mu.Lock()
	s.buf.Write(line)
	s.buf.WriteByte('\n')
	s.n++
	full := s.n >= s.cfg.BatchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Pending returns the number of buffered events.
func (s *ArchiveSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Flush uploads buffered events, if any.
func (s *ArchiveSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.n == 0 {
		s.mu.Unlock()
		return nil
	}
	data := bytes.Clone(s.buf.Bytes())
	count := s.n
	s.buf.Reset()
	s.n = 0
	s.mu.Unlock()

	name := s.objectName()
	_, err := s.objects.PutObject(ctx, s.cfg.Bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: ndjsonContentType})
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeUnavailableDependency, "audit: archive upload of %d events failed", count)
	}
	s.logger.DebugContext(ctx, "audit batch archived",
		slog.String("object", name),
		slog.Int("events", count),
	)
	return nil
}

// Run flushes every FlushInterval until ctx is done. It returns at once
// when the interval is zero.
func (s *ArchiveSink) Run(ctx context.Context) {
	if s.cfg.FlushInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				failuresTotal.Inc()
				s.logger.ErrorContext(ctx, "audit archive flush failed", slog.Any("error", err))
			}
		}
	}
}

// Close uploads whatever is still buffered.
func (s *ArchiveSink) Close(ctx context.Context) error {
	return s.Flush(ctx)
}

func (s *ArchiveSink) objectName() string {
	now := s.now().UTC()
	file := fmt.Sprintf("%s-%s.jsonl", now.Format("150405.000000000"), uuid.NewString())
	return path.Join(s.cfg.Prefix, now.Format("2006/01/02"), file)
}
