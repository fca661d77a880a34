package docintel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jupark12/jobdesc-ingest/extract"
)

const (
	DefaultModelID    = "prebuilt-read"
	DefaultAPIVersion = "2023-07-31"

	keyHeader = "Ocp-Apim-Subscription-Key"
)

const (
	statusNotStarted = "notStarted"
	statusRunning    = "running"
	statusSucceeded  = "succeeded"
	statusFailed     = "failed"
)

type Config struct {
	Endpoint     string
	Key          string
	ModelID      string
	APIVersion   string
	PollInterval time.Duration
	Timeout      time.Duration
}

// Client calls the Document Intelligence analyze API and waits for the result.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger,
	}
}

// ServiceError is an error reported by the analysis service.
type ServiceError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("document intelligence error (status %d): %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("document intelligence error: %s: %s", e.Code, e.Message)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error apiError `json:"error"`
}

type operation struct {
	Status        string   `json:"status"`
	Error         apiError `json:"error"`
	AnalyzeResult *struct {
		Pages []struct {
			PageNumber int `json:"pageNumber"`
			Lines      []struct {
				Content string `json:"content"`
			} `json:"lines"`
		} `json:"pages"`
	} `json:"analyzeResult"`
}

// Analyze submits data to the read model and blocks until the operation finishes.
func (c *Client) Analyze(ctx context.Context, data []byte) (*extract.Document, error) {
	rid := uuid.New().String()
	start := time.Now()
	log := c.log.With(zap.String("req_id", rid), zap.String("model", c.cfg.ModelID))

	opURL, err := c.begin(ctx, data)
	if err != nil {
		log.Error("docintel.begin_error", zap.Error(err), zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, err
	}
	log.Debug("docintel.accepted", zap.Int("bytes", len(data)))

	op, err := c.poll(ctx, opURL)
	if err != nil {
		log.Error("docintel.poll_error", zap.Error(err), zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, err
	}

	doc := toDocument(op)
	log.Info("docintel.completed",
		zap.Int("pages", len(doc.Pages)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return doc, nil
}

func (c *Client) analyzeURL() string {
	return fmt.Sprintf("%s/formrecognizer/documentModels/%s:analyze?api-version=%s",
		strings.TrimRight(c.cfg.Endpoint, "/"),
		url.PathEscape(c.cfg.ModelID),
		url.QueryEscape(c.cfg.APIVersion),
	)
}

func (c *Client) begin(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.analyzeURL(), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(keyHeader, c.cfg.Key)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return "", serviceError(resp.StatusCode, body)
	}

	opURL := resp.Header.Get("Operation-Location")
	if opURL == "" {
		return "", errors.New("document intelligence response has no Operation-Location")
	}
	return opURL, nil
}

func (c *Client) poll(ctx context.Context, opURL string) (*operation, error) {
	for {
		op, wait, err := c.getOperation(ctx, opURL)
		if err != nil {
			return nil, err
		}

		switch op.Status {
		case statusSucceeded:
			return op, nil
		case statusFailed:
			return nil, &ServiceError{Code: op.Error.Code, Message: op.Error.Message}
		case statusNotStarted, statusRunning:
		default:
			return nil, fmt.Errorf("unexpected operation status %q", op.Status)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) getOperation(ctx context.Context, opURL string) (*operation, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build poll request: %w", err)
	}
	req.Header.Set(keyHeader, c.cfg.Key)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("poll operation: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read poll response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, serviceError(resp.StatusCode, body)
	}

	var op operation
	if err := json.Unmarshal(body, &op); err != nil {
		return nil, 0, fmt.Errorf("decode operation: %w", err)
	}
	return &op, c.retryAfter(resp.Header.Get("Retry-After")), nil
}

func (c *Client) retryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return c.cfg.PollInterval
}

func serviceError(status int, body []byte) error {
	se := &ServiceError{StatusCode: status}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Code != "" {
		se.Code = eb.Error.Code
		se.Message = eb.Error.Message
	} else {
		se.Code = http.StatusText(status)
		se.Message = strings.TrimSpace(string(body))
	}
	return se
}

func toDocument(op *operation) *extract.Document {
	doc := &extract.Document{}
	if op.AnalyzeResult == nil {
		return doc
	}
	for _, p := range op.AnalyzeResult.Pages {
		page := extract.Page{Number: p.PageNumber}
		for _, l := range p.Lines {
			page.Lines = append(page.Lines, extract.Line{Content: l.Content})
		}
		doc.Pages = append(doc.Pages, page)
	}
	return doc
}
