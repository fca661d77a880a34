package extract

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jupark12/jobdesc-ingest/common"
	"github.com/jupark12/jobdesc-ingest/storage"
)

// Line is one recognized line of text.
type Line struct {
	Content string
}

// Page holds recognized lines in reading order.
type Page struct {
	Number int
	Lines  []Line
}

// Document is the result of a read analysis.
type Document struct {
	Pages []Page
}

// Text joins every line, page by page then line by line, with newlines.
func (d *Document) Text() string {
	if d == nil {
		return ""
	}
	var lines []string
	for _, page := range d.Pages {
		for _, line := range page.Lines {
			lines = append(lines, line.Content)
		}
	}
	return strings.Join(lines, "\n")
}

// Analyzer turns document bytes into recognized text.
type Analyzer interface {
	Analyze(ctx context.Context, data []byte) (*Document, error)
}

// Routine downloads a stored document, extracts its text and stores it next to the source.
type Routine struct {
	store    storage.BlobStore
	analyzer Analyzer
	logger   *zap.Logger
}

func NewRoutine(store storage.BlobStore, analyzer Analyzer, logger *zap.Logger) *Routine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Routine{store: store, analyzer: analyzer, logger: logger}
}

// Run extracts container/blobPath and returns the path of the written raw_text.txt.
func (r *Routine) Run(ctx context.Context, container, blobPath string) (string, error) {
	start := time.Now()
	log := r.logger.With(zap.String("container", container), zap.String("blob_path", blobPath))

	data, err := r.store.Download(ctx, container, blobPath)
	if err != nil {
		log.Error("extract.download_failed", zap.Error(err))
		return "", common.StorageError("download source", err)
	}
	log.Debug("extract.downloaded", zap.Int("bytes", len(data)))

	doc, err := r.analyzer.Analyze(ctx, data)
	if err != nil {
		log.Error("extract.analyze_failed", zap.Error(err))
		return "", common.ExtractionError("analyze document", err)
	}

	text := doc.Text()
	textPath := storage.TextPath(blobPath)
	if err := r.store.Upload(ctx, container, textPath, []byte(text)); err != nil {
		log.Error("extract.upload_failed", zap.String("text_path", textPath), zap.Error(err))
		return "", common.StorageError("upload extracted text", err)
	}

	log.Info("extract.completed",
		zap.String("text_path", textPath),
		zap.Int("pages", len(doc.Pages)),
		zap.Int("chars", len(text)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return textPath, nil
}
