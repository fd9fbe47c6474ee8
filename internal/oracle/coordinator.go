package oracle

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Fulfiller accepts raw random words. *Adapter implements it.
type Fulfiller interface {
	Fulfill(ctx context.Context, requestID uint64, word *uint256.Int) error
}

// LocalCoordinator answers requests in-process after a delay with a word from crypto/rand. It
// stands in for the external service in development and tests.
type LocalCoordinator struct {
	delay time.Duration
	log   *zap.Logger

	mu     sync.Mutex
	target Fulfiller

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewLocalCoordinator(delay time.Duration, log *zap.Logger) *LocalCoordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalCoordinator{
		delay:  delay,
		log:    log.Named("local-vrf"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Bind sets where answers are delivered.
func (c *LocalCoordinator) Bind(f Fulfiller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = f
}

// RequestRandomWords schedules an answer and returns immediately.
func (c *LocalCoordinator) RequestRandomWords(_ context.Context, requestID uint64) error {
	c.mu.Lock()
	target := c.target
	c.mu.Unlock()
	if target == nil {
		return fmt.Errorf("local coordinator is not bound")
	}
	if c.ctx.Err() != nil {
		return c.ctx.Err()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(c.delay)
		defer timer.Stop()
		select {
		case <-c.ctx.Done():
			return
		case <-timer.C:
		}

		word, err := randomWord()
		if err != nil {
			c.log.Error("random word", zap.Error(err))
			return
		}
		if err := target.Fulfill(c.ctx, requestID, word); err != nil {
			c.log.Warn("fulfillment rejected", zap.Uint64("request_id", requestID), zap.Error(err))
		}
	}()
	return nil
}

// Close stops pending answers and waits for in-flight ones.
func (c *LocalCoordinator) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

func randomWord() (*uint256.Int, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes32(buf[:]), nil
}

// HTTPCoordinator posts requests to an external randomness service, which answers later through
// the daemon's fulfillment endpoint.
type HTTPCoordinator struct {
	url      string
	callback string
	client   *http.Client
}

type randomnessRequest struct {
	RequestID   uint64 `json:"request_id"`
	NumWords    int    `json:"num_words"`
	CallbackURL string `json:"callback_url"`
}

func NewHTTPCoordinator(url, callback string, timeout time.Duration) *HTTPCoordinator {
	return &HTTPCoordinator{
		url:      url,
		callback: callback,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPCoordinator) RequestRandomWords(ctx context.Context, requestID uint64) error {
	body, err := json.Marshal(randomnessRequest{RequestID: requestID, NumWords: 1, CallbackURL: c.callback})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post randomness request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("randomness service returned %s", resp.Status)
	}
	return nil
}
