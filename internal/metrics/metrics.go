// Package metrics exposes the prometheus collectors for the flipcoin daemon.
//
// Collectors implements the observer hooks of the wager engine, the proof verifier and the
// oracle adapter, so each component reports without importing prometheus itself.
package metrics

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"flipcoin/internal/events"
	"flipcoin/internal/wager"
)

const namespace = "flipcoin"

// Collectors groups every metric the daemon records.
type Collectors struct {
	transitions  *prometheus.CounterVec
	settlements  *prometheus.CounterVec
	lockedWei    prometheus.Gauge
	verification *prometheus.HistogramVec
	oracle       prometheus.Histogram
	publish      *prometheus.CounterVec
	compile      prometheus.Histogram
	proving      prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Bet operations by operation and outcome class.",
		}, []string{"op", "class"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settled bets by winner.",
		}, []string{"winner"}),
		lockedWei: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "locked_wei",
			Help:      "Stake locked in unsettled bets.",
		}),
		verification: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proof_verification_seconds",
			Help:      "Groth16 verification latency.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		}, []string{"valid"}),
		oracle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_fulfillment_seconds",
			Help:      "Time from randomness request to fulfillment.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		publish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Event publications by type and result.",
		}, []string{"type", "result"}),
		compile: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "circuit_compile_seconds",
			Help:      "Fairness circuit compilation time.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 8),
		}),
		proving: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proof_generation_seconds",
			Help:      "Fairness proof generation time.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 8),
		}),
	}
	reg.MustRegister(
		c.transitions,
		c.settlements,
		c.lockedWei,
		c.verification,
		c.oracle,
		c.publish,
		c.compile,
		c.proving,
	)
	return c
}

func (c *Collectors) Transition(op string, class wager.Class) {
	c.transitions.WithLabelValues(op, class.String()).Inc()
}

func (c *Collectors) BetSettled(playerWon bool) {
	winner := "house"
	if playerWon {
		winner = "player"
	}
	c.settlements.WithLabelValues(winner).Inc()
}

// FundsLocked sets the locked gauge. Precision loss above 2^53 wei is acceptable for a gauge.
func (c *Collectors) FundsLocked(locked *uint256.Int) {
	f, _ := new(big.Float).SetInt(locked.ToBig()).Float64()
	c.lockedWei.Set(f)
}

func (c *Collectors) ObserveProofVerification(d time.Duration, ok bool) {
	c.verification.WithLabelValues(strconv.FormatBool(ok)).Observe(d.Seconds())
}

func (c *Collectors) ObserveOracleLatency(d time.Duration) {
	c.oracle.Observe(d.Seconds())
}

func (c *Collectors) ObserveCompile(d time.Duration) {
	c.compile.Observe(d.Seconds())
}

func (c *Collectors) ObserveProving(d time.Duration) {
	c.proving.Observe(d.Seconds())
}

// Publisher wraps an events.Publisher and counts each publication.
func (c *Collectors) Publisher(next events.Publisher) events.Publisher {
	return &countingPublisher{next: next, publish: c.publish}
}

type countingPublisher struct {
	next    events.Publisher
	publish *prometheus.CounterVec
}

func (p *countingPublisher) Publish(ctx context.Context, event events.Event) error {
	err := p.next.Publish(ctx, event)
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.publish.WithLabelValues(string(event.Type()), result).Inc()
	return err
}
