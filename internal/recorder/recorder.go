package recorder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "tradeflow/config"
	"tradeflow/internal/feed"
	"tradeflow/internal/models"
	"tradeflow/logger"
)

// TickRecord is the parquet row schema for recorded market data.
type TickRecord struct {
	Instrument   string  `parquet:"name=instrument, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp    int64   `parquet:"name=timestamp, type=INT64"`
	UpdateTime   string  `parquet:"name=update_time, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastPrice    float64 `parquet:"name=last_price, type=DOUBLE"`
	PreClose     float64 `parquet:"name=pre_close, type=DOUBLE"`
	Open         float64 `parquet:"name=open, type=DOUBLE"`
	High         float64 `parquet:"name=high, type=DOUBLE"`
	Low          float64 `parquet:"name=low, type=DOUBLE"`
	Volume       int64   `parquet:"name=volume, type=INT64"`
	Turnover     float64 `parquet:"name=turnover, type=DOUBLE"`
	OpenInterest float64 `parquet:"name=open_interest, type=DOUBLE"`
	BidPrice1    float64 `parquet:"name=bid_price1, type=DOUBLE"`
	BidVolume1   int64   `parquet:"name=bid_volume1, type=INT64"`
	AskPrice1    float64 `parquet:"name=ask_price1, type=DOUBLE"`
	AskVolume1   int64   `parquet:"name=ask_volume1, type=INT64"`
}

// memoryFileWriter implements the ParquetFile interface for in-memory writing
// when records are bound for S3 rather than the local tape directory.
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

// Recorder buffers market ticks per instrument and periodically flushes them
// as parquet files into the tape directory, optionally mirroring each file to
// S3. It consumes decoded market data events and never feeds anything back
// into the live pipeline.
type Recorder struct {
	cfg      appconfig.RecorderConfig
	s3Client *s3.Client
	log      *logger.Entry

	mu      sync.Mutex
	buffer  map[string][]TickRecord
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	ticker *time.Ticker
	wg     sync.WaitGroup
}

// NewRecorder builds a recorder from config. When S3 mirroring is enabled the
// AWS client is created eagerly so credential problems surface at startup.
func NewRecorder(cfg appconfig.RecorderConfig) (*Recorder, error) {
	r := &Recorder{
		cfg:    cfg,
		log:    logger.GetLogger().WithComponent("recorder"),
		buffer: make(map[string][]TickRecord),
	}

	if cfg.S3.Enabled {
		loadOpts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(cfg.S3.Region),
		}
		if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(
					cfg.S3.AccessKeyID,
					cfg.S3.SecretAccessKey,
					"",
				),
			))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		creds, err := awsCfg.Credentials.Retrieve(context.Background())
		if err != nil || !creds.HasKeys() {
			return nil, fmt.Errorf("aws credentials not found")
		}
		r.s3Client = s3.NewFromConfig(awsCfg)

		r.log.WithFields(logger.Fields{
			"bucket": cfg.S3.Bucket,
			"region": cfg.S3.Region,
		}).Info("s3 mirroring enabled")
	}

	return r, nil
}

// Bind attaches the recorder to the bus so every decoded market tick lands in
// the buffer.
func (r *Recorder) Bind(bus *feed.Bus) {
	bus.On(models.KindMarketData, func(ev models.Event) {
		tick, ok := ev.Payload.(models.MarketTick)
		if !ok {
			return
		}
		r.Record(tick)
	})
}

// Record buffers one tick. Safe to call from the dispatch goroutine.
func (r *Recorder) Record(tick models.MarketTick) {
	rec := TickRecord{
		Instrument:   tick.InstrumentID,
		Timestamp:    time.Now().UnixMilli(),
		UpdateTime:   tick.UpdateTime,
		LastPrice:    tick.LastPrice,
		PreClose:     tick.PreClosePrice,
		Open:         tick.OpenPrice,
		High:         tick.HighestPrice,
		Low:          tick.LowestPrice,
		Volume:       tick.Volume,
		Turnover:     tick.Turnover,
		OpenInterest: tick.OpenInterest,
		BidPrice1:    tick.BidPrice1,
		BidVolume1:   tick.BidVolume1,
		AskPrice1:    tick.AskPrice1,
		AskVolume1:   tick.AskVolume1,
	}

	r.mu.Lock()
	r.buffer[tick.InstrumentID] = append(r.buffer[tick.InstrumentID], rec)
	r.mu.Unlock()
}

// Start launches the flush worker. Returns an error when already running or
// when the tape directory cannot be created.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("recorder already running")
	}
	r.running = true
	r.mu.Unlock()

	if err := os.MkdirAll(r.cfg.Directory, 0o755); err != nil {
		return fmt.Errorf("failed to create tape directory: %w", err)
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.ticker = time.NewTicker(r.cfg.FlushInterval)

	r.wg.Add(1)
	go r.flushWorker()

	r.log.WithFields(logger.Fields{
		"directory":      r.cfg.Directory,
		"flush_interval": r.cfg.FlushInterval.String(),
	}).Info("recorder started")
	return nil
}

// Stop flushes outstanding buffers and halts the worker.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	r.ticker.Stop()
	r.log.Info("recorder stopped")
}

func (r *Recorder) flushWorker() {
	defer r.wg.Done()

	log := r.log.WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-r.ctx.Done():
			r.Flush("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-r.ticker.C:
			r.Flush("interval")
		}
	}
}

// Flush drains the buffers and writes one parquet file per instrument.
func (r *Recorder) Flush(reason string) {
	r.mu.Lock()
	buffers := r.buffer
	r.buffer = make(map[string][]TickRecord)
	r.mu.Unlock()

	if len(buffers) == 0 {
		return
	}

	r.log.WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Info("flushing tick buffers")

	for instrument, records := range buffers {
		if len(records) == 0 {
			continue
		}
		if err := r.writeSegment(instrument, records); err != nil {
			r.log.WithError(err).WithFields(logger.Fields{
				"instrument": instrument,
				"records":    len(records),
			}).Error("failed to write tape segment")
		}
	}
}

func (r *Recorder) writeSegment(instrument string, records []TickRecord) error {
	ts := time.Now().UTC().Format("20060102150405")
	filename := fmt.Sprintf("%s_%s_%s.parquet", instrument, ts, uuid.NewString()[:8])
	path := filepath.Join(r.cfg.Directory, filename)

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create tape file: %w", err)
	}

	if err := writeRecords(fw, records); err != nil {
		fw.Close()
		os.Remove(path)
		return err
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to close tape file: %w", err)
	}

	r.log.WithFields(logger.Fields{
		"instrument": instrument,
		"records":    len(records),
		"file":       filename,
	}).Info("tape segment written")

	if r.s3Client != nil {
		if err := r.mirrorToS3(instrument, filename, records); err != nil {
			r.log.WithError(err).
				WithEnv("S3_BUCKET").
				WithFields(logger.Fields{"bucket": r.cfg.S3.Bucket, "file": filename}).
				Error("failed to mirror tape segment to S3")
		}
	}
	return nil
}

func writeRecords(fw source.ParquetFile, records []TickRecord) error {
	pw, err := writer.NewParquetWriter(fw, new(TickRecord), 2)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return nil
}

func (r *Recorder) mirrorToS3(instrument, filename string, records []TickRecord) error {
	mfw := newMemoryFileWriter()
	if err := writeRecords(mfw, records); err != nil {
		return err
	}
	data := mfw.Bytes()

	day := time.Now().UTC().Format("2006-01-02")
	key := filepath.ToSlash(filepath.Join(r.cfg.S3.Prefix, fmt.Sprintf("instrument=%s", instrument), fmt.Sprintf("date=%s", day), filename))

	ctx := context.WithoutCancel(r.ctx)
	_, err := r.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.cfg.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
			"records":      fmt.Sprintf("%d", len(records)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", r.cfg.S3.Bucket, err)
	}

	r.log.WithFields(logger.Fields{"s3_key": key, "data_size": len(data)}).Info("tape segment mirrored to S3")
	return nil
}
