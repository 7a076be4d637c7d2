// Package archive persists aggregated Level2 snapshots to S3 as parquet
// files, partitioned by symbol and capture time. Snapshots are buffered in
// memory and flushed on a fixed interval or at shutdown.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "tradecore/config"
	"tradecore/logger"
	"tradecore/models"
)

// levelRecord is one flattened order book level in the parquet schema.
type levelRecord struct {
	Symbol     string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Exchanges  string  `parquet:"name=exchanges, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64   `parquet:"name=timestamp, type=INT64"`
	Side       string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price      float64 `parquet:"name=price, type=DOUBLE"`
	Quantity   float64 `parquet:"name=quantity, type=DOUBLE"`
	OrderCount int32   `parquet:"name=order_count, type=INT32"`
	Level      int32   `parquet:"name=level, type=INT32"`
	Spread     float64 `parquet:"name=spread, type=DOUBLE"`
	MidPrice   float64 `parquet:"name=mid_price, type=DOUBLE"`
	Imbalance  float64 `parquet:"name=imbalance, type=DOUBLE"`
}

// memoryFileWriter implements the ParquetFile interface over a buffer so
// files are assembled fully in memory before upload.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)   { return mfw, nil }
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}
func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// Archiver buffers Level2 snapshots per symbol and flushes them to S3.
// Record is safe to use as a level2 subscription callback.
type Archiver struct {
	cfg      *appconfig.Config
	s3Client *s3.Client
	log      *logger.Log

	ctx         context.Context
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
	buffer      map[string][]levelRecord
	flushTicker *time.Ticker
}

// NewArchiver builds the S3 client and validates credentials up front so a
// misconfigured archive fails at startup, not at first flush.
func NewArchiver(cfg *appconfig.Config) (*Archiver, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Archive.S3.Region),
	}
	if cfg.Archive.S3.AccessKeyID != "" && cfg.Archive.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Archive.S3.AccessKeyID,
				cfg.Archive.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Archive.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Archive.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Archive.S3.PathStyle
	})

	log.WithComponent("archive").WithFields(logger.Fields{
		"bucket":     cfg.Archive.S3.Bucket,
		"region":     cfg.Archive.S3.Region,
		"endpoint":   cfg.Archive.S3.Endpoint,
		"path_style": cfg.Archive.S3.PathStyle,
	}).Info("archiver initialized")

	return &Archiver{
		cfg:      cfg,
		s3Client: s3Client,
		log:      log,
		buffer:   make(map[string][]levelRecord),
	}, nil
}

// Start launches the flush worker.
func (a *Archiver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("archiver already running")
	}
	a.running = true
	a.ctx = ctx
	a.flushTicker = time.NewTicker(a.cfg.Archive.FlushInterval)
	a.mu.Unlock()

	a.wg.Add(1)
	go a.flushWorker()

	a.log.WithComponent("archive").Info("archiver started")
	return nil
}

// Stop flushes whatever is buffered and waits for the worker to exit.
func (a *Archiver) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	if a.flushTicker != nil {
		a.flushTicker.Stop()
	}
	a.wg.Wait()
	a.log.WithComponent("archive").Info("archiver stopped")
}

// Record flattens one snapshot into level rows and buffers them under the
// snapshot's symbol.
func (a *Archiver) Record(data *models.Level2Data) {
	records := flatten(data)
	if len(records) == 0 {
		return
	}
	a.mu.Lock()
	a.buffer[data.Symbol] = append(a.buffer[data.Symbol], records...)
	a.mu.Unlock()
}

func (a *Archiver) flushWorker() {
	defer a.wg.Done()

	log := a.log.WithComponent("archive").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-a.ctx.Done():
			a.flushBuffers("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-a.flushTicker.C:
			a.flushBuffers("interval")
		}
	}
}

func (a *Archiver) flushBuffers(reason string) {
	a.mu.Lock()
	buffers := a.buffer
	a.buffer = make(map[string][]levelRecord)
	a.mu.Unlock()

	if len(buffers) == 0 {
		return
	}

	a.log.WithComponent("archive").WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Info("flushing buffers")

	for symbol, records := range buffers {
		if len(records) == 0 {
			continue
		}
		a.upload(symbol, records)
	}
}

func (a *Archiver) upload(symbol string, records []levelRecord) {
	now := time.Now().UTC()
	key := a.objectKey(symbol, now)
	log := a.log.WithComponent("archive").WithFields(logger.Fields{
		"symbol":       symbol,
		"record_count": len(records),
		"s3_key":       key,
	})

	data, err := buildParquet(records)
	if err != nil {
		log.WithError(err).Error("failed to build parquet file")
		return
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Archive.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"tradecore-version": a.cfg.Tradecore.Version,
		},
	}

	// Shutdown flushes must still complete their in-flight upload.
	ctx := context.WithoutCancel(a.ctx)
	if _, err := a.s3Client.PutObject(ctx, input); err != nil {
		log.WithError(err).Error("failed to upload to S3")
		return
	}

	logger.IncrementArchiveWrite(int64(len(data)))
	log.WithFields(logger.Fields{"file_size": len(data)}).Info("snapshot batch archived")
}

func (a *Archiver) objectKey(symbol string, ts time.Time) string {
	parts := []string{
		a.cfg.Archive.S3.Prefix,
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("date=%s", ts.Format("2006-01-02")),
		fmt.Sprintf("hour=%02d", ts.Hour()),
		fmt.Sprintf("%s_%s.parquet", ts.Format("20060102150405"), uuid.NewString()),
	}
	return filepath.ToSlash(filepath.Join(parts...))
}

// flatten turns a snapshot into one row per book level, tagged with the
// snapshot-wide spread, mid-price and imbalance for downstream queries.
func flatten(data *models.Level2Data) []levelRecord {
	if data == nil {
		return nil
	}
	exchanges := strings.Join(data.Exchanges, ",")
	ts := data.Timestamp.UnixMilli()

	records := make([]levelRecord, 0, len(data.Bids)+len(data.Asks))
	for i, level := range data.Bids {
		if level.Price == 0 || level.Quantity == 0 {
			continue
		}
		records = append(records, levelRecord{
			Symbol:     data.Symbol,
			Exchanges:  exchanges,
			Timestamp:  ts,
			Side:       "bid",
			Price:      level.Price,
			Quantity:   level.Quantity,
			OrderCount: int32(level.OrderCount),
			Level:      int32(i + 1),
			Spread:     data.Spread,
			MidPrice:   data.MidPrice,
			Imbalance:  data.Analysis.OrderFlowImbalance,
		})
	}
	for i, level := range data.Asks {
		if level.Price == 0 || level.Quantity == 0 {
			continue
		}
		records = append(records, levelRecord{
			Symbol:     data.Symbol,
			Exchanges:  exchanges,
			Timestamp:  ts,
			Side:       "ask",
			Price:      level.Price,
			Quantity:   level.Quantity,
			OrderCount: int32(level.OrderCount),
			Level:      int32(i + 1),
			Spread:     data.Spread,
			MidPrice:   data.MidPrice,
			Imbalance:  data.Analysis.OrderFlowImbalance,
		})
	}
	return records
}

func buildParquet(records []levelRecord) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := writer.NewParquetWriter(fw, new(levelRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, record := range records {
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}
