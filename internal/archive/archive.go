// Package archive persists fetched bar series as parquet, locally and
// optionally to S3, so chart pulls leave an analyzable trail.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "chartflow/config"
	"chartflow/internal/models"
	"chartflow/logger"
)

// BarRecord is the parquet row layout for one archived bar.
type BarRecord struct {
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Exchange  string  `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Interval  string  `parquet:"name=interval, type=BYTE_ARRAY, convertedtype=UTF8"`
	Time      int64   `parquet:"name=time, type=INT64"`
	Open      float64 `parquet:"name=open, type=DOUBLE"`
	High      float64 `parquet:"name=high, type=DOUBLE"`
	Low       float64 `parquet:"name=low, type=DOUBLE"`
	Close     float64 `parquet:"name=close, type=DOUBLE"`
	Volume    float64 `parquet:"name=volume, type=DOUBLE"`
	FetchedAt int64   `parquet:"name=fetched_at, type=INT64"`
}

// memoryFile implements the ParquetFile interface over a byte buffer so a
// batch can be encoded once and then written to disk or uploaded.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memoryFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memoryFile) Read(b []byte) (int, error)                { return m.buffer.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memoryFile) Close() error                              { return nil }
func (m *memoryFile) Bytes() []byte                             { return m.buffer.Bytes() }

// Archiver writes one parquet object per fetched series.
type Archiver struct {
	config   *appconfig.Config
	s3Client *s3.Client
	log      *logger.Log
}

// NewArchiver builds an archiver. The S3 client is only configured when the
// archive's S3 target is enabled; local parquet files need no credentials.
func NewArchiver(cfg *appconfig.Config) (*Archiver, error) {
	log := logger.GetLogger()
	a := &Archiver{config: cfg, log: log}

	if cfg.Archive.S3.Enabled {
		ctx := context.Background()
		loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Archive.S3.Region)}
		if cfg.Archive.S3.AccessKeyID != "" && cfg.Archive.S3.SecretAccessKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(
					cfg.Archive.S3.AccessKeyID,
					cfg.Archive.S3.SecretAccessKey,
					"",
				),
			))
		}
		awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		creds, err := awsConfig.Credentials.Retrieve(ctx)
		if err != nil || !creds.HasKeys() {
			return nil, fmt.Errorf("aws credentials not found")
		}
		a.s3Client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			if cfg.Archive.S3.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Archive.S3.Endpoint)
			}
			o.UsePathStyle = cfg.Archive.S3.PathStyle
		})
		log.WithComponent("archive").WithFields(logger.Fields{
			"bucket": cfg.Archive.S3.Bucket,
			"region": cfg.Archive.S3.Region,
		}).Info("s3 archive target initialized")
	}

	return a, nil
}

// Records converts one fetched series to parquet rows.
func Records(data *models.ChartData, interval string, fetchedAt time.Time) []BarRecord {
	records := make([]BarRecord, 0, len(data.Bars))
	for _, b := range data.Bars {
		records = append(records, BarRecord{
			Symbol:    data.Symbol,
			Exchange:  data.SymbolInfo.Exchange,
			Interval:  interval,
			Time:      b.Time,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			FetchedAt: fetchedAt.UnixMilli(),
		})
	}
	return records
}

// Archive encodes a series as parquet and writes it to every configured
// target. An empty series is skipped.
func (a *Archiver) Archive(ctx context.Context, data *models.ChartData, interval string) error {
	if len(data.Bars) == 0 {
		return nil
	}
	records := Records(data, interval, time.Now())

	payload, err := encodeParquet(records)
	if err != nil {
		return fmt.Errorf("encode parquet: %w", err)
	}

	key := objectKey(a.config.Archive.S3.Prefix, data.Symbol)

	localPath := filepath.Join(a.config.Archive.Dir, key)
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	if err := os.WriteFile(localPath, payload, 0o644); err != nil {
		return fmt.Errorf("write archive file: %w", err)
	}

	log := a.log.WithComponent("archive").WithFields(logger.Fields{
		"symbol": data.Symbol,
		"rows":   len(records),
		"path":   localPath,
	})

	if a.s3Client != nil {
		_, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(a.config.Archive.S3.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(payload),
		})
		if err != nil {
			return fmt.Errorf("upload archive to s3: %w", err)
		}
		log = log.WithFields(logger.Fields{"bucket": a.config.Archive.S3.Bucket})
	}

	log.Info("bar series archived")
	return nil
}

func encodeParquet(records []BarRecord) ([]byte, error) {
	mem := newMemoryFile()
	pw, err := writer.NewParquetWriter(mem, new(BarRecord), 1)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range records {
		if err := pw.Write(r); err != nil {
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mem.Bytes(), nil
}

// objectKey partitions archives by symbol and day; the uuid suffix keeps
// repeated pulls of the same symbol from clobbering each other.
func objectKey(prefix, symbol string) string {
	day := time.Now().UTC().Format("2006-01-02")
	name := strings.ReplaceAll(symbol, ":", "_")
	key := fmt.Sprintf("%s/%s/%s.parquet", name, day, uuid.New().String())
	if prefix != "" {
		key = strings.TrimSuffix(prefix, "/") + "/" + key
	}
	return key
}
