// File: internal/audit/shipper.go
package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/hpcloud/tail"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Sink delivers one audit record to a destination.
type Sink interface {
	Name() string
	Ship(ctx context.Context, rec Record) error
}

// Shipper follows the spool file and delivers each appended record to every
// configured sink. Delivery failures are logged and skipped; the spool keeps
// the full local history either way.
type Shipper struct {
	path   string
	sinks  []Sink
	logger *zap.Logger

	mu sync.Mutex
	t  *tail.Tail
	wg sync.WaitGroup
}

// NewShipper builds a shipper over the spool at path.
func NewShipper(path string, sinks []Sink, logger *zap.Logger) *Shipper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shipper{
		path:   path,
		sinks:  sinks,
		logger: logger.Named("audit.shipper"),
	}
}

// Start begins following the spool. Records already present are shipped
// first, then the shipper blocks on new appends until Stop.
func (s *Shipper) Start(ctx context.Context) error {
	if len(s.sinks) == 0 {
		return nil
	}

	t, err := tail.TailFile(s.path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("audit: following spool: %w", err)
	}
	s.mu.Lock()
	s.t = t
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-t.Lines:
				if !ok {
					return
				}
				if line.Err != nil {
					s.logger.Warn("Spool read error.", zap.Error(line.Err))
					continue
				}
				s.shipLine(ctx, line.Text)
			}
		}
	}()
	return nil
}

// Stop ends the follow loop and waits for in-flight deliveries.
func (s *Shipper) Stop() {
	s.mu.Lock()
	t := s.t
	s.mu.Unlock()
	if t != nil {
		_ = t.Stop()
		t.Cleanup()
	}
	s.wg.Wait()
}

func (s *Shipper) shipLine(ctx context.Context, line string) {
	if line == "" {
		return
	}
	var rec Record
	if err := json.UnmarshalFromString(line, &rec); err != nil {
		s.logger.Warn("Skipping malformed spool line.", zap.Error(err))
		return
	}
	for _, sink := range s.sinks {
		if err := sink.Ship(ctx, rec); err != nil {
			s.logger.Warn("Failed to deliver audit record.",
				zap.String("sink", sink.Name()), zap.String("id", rec.ID), zap.Error(err))
		}
	}
}

// HTTPSink posts records to the household reporting endpoint. The wire
// payload carries exactly the two reported fields.
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink builds the endpoint sink; client may be nil for defaults.
func NewHTTPSink(url string, client *http.Client) *HTTPSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSink{url: url, client: client}
}

func (s *HTTPSink) Name() string { return "http" }

type wireRecord struct {
	SearchQuery   string `json:"search_query"`
	ChildUsername string `json:"child_username"`
}

func (s *HTTPSink) Ship(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(wireRecord{
		SearchQuery:   rec.SearchQuery,
		ChildUsername: rec.ChildUsername,
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.CopyN(io.Discard, resp.Body, 512)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
