package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flipcoin/internal/events"
	"flipcoin/internal/oracle"
	"flipcoin/internal/verifier"
	"flipcoin/internal/wager"
)

var (
	_ wager.Recorder    = (*Collectors)(nil)
	_ verifier.Observer = (*Collectors)(nil)
	_ oracle.Observer   = (*Collectors)(nil)
)

type failingPublisher struct{ err error }

func (p failingPublisher) Publish(context.Context, events.Event) error { return p.err }

func TestCollectors(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.Transition("settle", wager.ClassNone)
	c.Transition("settle", wager.ClassNone)
	c.Transition("settle", wager.ClassProof)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.transitions.WithLabelValues("settle", wager.ClassNone.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("settle", wager.ClassProof.String())))

	c.BetSettled(true)
	c.BetSettled(false)
	c.BetSettled(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.settlements.WithLabelValues("player")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.settlements.WithLabelValues("house")))

	c.FundsLocked(uint256.NewInt(20_000))
	assert.Equal(t, 20_000.0, testutil.ToFloat64(c.lockedWei))

	c.ObserveProofVerification(3*time.Millisecond, true)
	c.ObserveOracleLatency(time.Second)
	assert.Equal(t, 1, testutil.CollectAndCount(c.verification))
	assert.Equal(t, 1, testutil.CollectAndCount(c.oracle))
}

func TestCountingPublisher(t *testing.T) {
	c := New(prometheus.NewRegistry())
	boom := errors.New("broker down")

	ok := c.Publisher(failingPublisher{})
	bad := c.Publisher(failingPublisher{err: boom})
	ev := events.BetCreated{BetID: 1}

	require.NoError(t, ok.Publish(context.Background(), ev))
	assert.ErrorIs(t, bad.Publish(context.Background(), ev), boom)

	typ := string(events.TypeBetCreated)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.publish.WithLabelValues(typ, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.publish.WithLabelValues(typ, "error")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.BetSettled(true)

	healthy := true
	h := Handler(reg, func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("store unreachable")
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `flipcoin_settlements_total{winner="player"} 1`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "unhealthy: store unreachable"))
}
