package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var oracleAddr = common.HexToAddress("0x000000000000000000000000000000000000beef")

type fakeCoordinator struct {
	mu   sync.Mutex
	ids  []uint64
	fail error
}

func (f *fakeCoordinator) RequestRandomWords(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.ids = append(f.ids, id)
	return nil
}

type delivery struct {
	caller common.Address
	betID  uint64
	index  int
}

type fakeSink struct {
	mu   sync.Mutex
	got  []delivery
	fail error
	done chan delivery
}

func (s *fakeSink) FulfillRandomness(_ context.Context, caller common.Address, betID uint64, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	d := delivery{caller, betID, index}
	s.got = append(s.got, d)
	if s.done != nil {
		s.done <- d
	}
	return nil
}

func TestIndexFromWord(t *testing.T) {
	assert.Equal(t, 0, IndexFromWord(uint256.NewInt(0)))
	assert.Equal(t, 137, IndexFromWord(uint256.NewInt(137)))
	assert.Equal(t, 137, IndexFromWord(uint256.NewInt(512+137)))
	assert.Equal(t, 511, IndexFromWord(new(uint256.Int).SetAllOne()))
}

func TestRequestIsIdempotentPerBet(t *testing.T) {
	coord := &fakeCoordinator{}
	a := NewAdapter(oracleAddr, coord, zap.NewNop())
	ctx := context.Background()

	id1, err := a.RequestRandomness(ctx, 7)
	require.NoError(t, err)
	id2, err := a.RequestRandomness(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Len(t, coord.ids, 1)

	id3, err := a.RequestRandomness(ctx, 8)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
	assert.Equal(t, 2, a.Pending())
}

func TestRequestFailureLeavesNoRequest(t *testing.T) {
	coord := &fakeCoordinator{fail: errors.New("unreachable")}
	a := NewAdapter(oracleAddr, coord, zap.NewNop())
	_, err := a.RequestRandomness(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, 0, a.Pending())
}

func TestCancelRandomnessReissues(t *testing.T) {
	coord := &fakeCoordinator{}
	a := NewAdapter(oracleAddr, coord, zap.NewNop())
	sink := &fakeSink{}
	a.Attach(sink)
	ctx := context.Background()

	stale, err := a.RequestRandomness(ctx, 3)
	require.NoError(t, err)
	a.CancelRandomness(3)
	a.CancelRandomness(3)
	assert.Equal(t, 0, a.Pending())
	assert.ErrorIs(t, a.Fulfill(ctx, stale, uint256.NewInt(1)), ErrDuplicateFulfillment)

	fresh, err := a.RequestRandomness(ctx, 3)
	require.NoError(t, err)
	assert.NotEqual(t, stale, fresh)
	assert.Equal(t, []uint64{stale, fresh}, coord.ids)
	require.NoError(t, a.Fulfill(ctx, fresh, uint256.NewInt(2)))
	assert.Equal(t, []delivery{{oracleAddr, 3, 2}}, sink.got)
}

func TestFulfill(t *testing.T) {
	a := NewAdapter(oracleAddr, &fakeCoordinator{}, zap.NewNop())
	sink := &fakeSink{}
	a.Attach(sink)
	ctx := context.Background()

	id, err := a.RequestRandomness(ctx, 4)
	require.NoError(t, err)

	require.NoError(t, a.Fulfill(ctx, id, uint256.NewInt(1024+9)))
	require.Len(t, sink.got, 1)
	assert.Equal(t, delivery{oracleAddr, 4, 9}, sink.got[0])

	err = a.Fulfill(ctx, id, uint256.NewInt(3))
	assert.ErrorIs(t, err, ErrDuplicateFulfillment, "second fulfillment")
	err = a.Fulfill(ctx, id+100, uint256.NewInt(3))
	assert.ErrorIs(t, err, ErrDuplicateFulfillment, "unknown request")
	assert.Len(t, sink.got, 1)
	assert.Equal(t, 0, a.Pending())
}

func TestFulfillReopensOnSinkFailure(t *testing.T) {
	a := NewAdapter(oracleAddr, &fakeCoordinator{}, zap.NewNop())
	sink := &fakeSink{fail: errors.New("store down")}
	a.Attach(sink)
	ctx := context.Background()

	id, err := a.RequestRandomness(ctx, 1)
	require.NoError(t, err)
	require.Error(t, a.Fulfill(ctx, id, uint256.NewInt(5)))

	sink.fail = nil
	require.NoError(t, a.Fulfill(ctx, id, uint256.NewInt(5)))
	assert.Len(t, sink.got, 1)
}

func TestFulfillWithoutSink(t *testing.T) {
	a := NewAdapter(oracleAddr, &fakeCoordinator{}, zap.NewNop())
	id, err := a.RequestRandomness(context.Background(), 1)
	require.NoError(t, err)
	assert.ErrorIs(t, a.Fulfill(context.Background(), id, uint256.NewInt(5)), ErrNoSink)
}

func TestLocalCoordinatorDelivers(t *testing.T) {
	coord := NewLocalCoordinator(time.Millisecond, zap.NewNop())
	defer coord.Close()
	a := NewAdapter(oracleAddr, coord, zap.NewNop())
	coord.Bind(a)
	sink := &fakeSink{done: make(chan delivery, 1)}
	a.Attach(sink)

	_, err := a.RequestRandomness(context.Background(), 11)
	require.NoError(t, err)

	select {
	case d := <-sink.done:
		assert.Equal(t, uint64(11), d.betID)
		assert.GreaterOrEqual(t, d.index, 0)
		assert.Less(t, d.index, 512)
	case <-time.After(5 * time.Second):
		t.Fatal("local coordinator never fulfilled")
	}
}

func TestLocalCoordinatorUnbound(t *testing.T) {
	coord := NewLocalCoordinator(0, zap.NewNop())
	defer coord.Close()
	assert.Error(t, coord.RequestRandomWords(context.Background(), 1))
}

func TestHTTPCoordinator(t *testing.T) {
	var got randomnessRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewHTTPCoordinator(srv.URL, "http://flipcoind/oracle/fulfill", time.Second)
	require.NoError(t, c.RequestRandomWords(context.Background(), 12))
	assert.Equal(t, uint64(12), got.RequestID)
	assert.Equal(t, 1, got.NumWords)
	assert.Equal(t, "http://flipcoind/oracle/fulfill", got.CallbackURL)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	assert.Error(t, NewHTTPCoordinator(failing.URL, "", time.Second).RequestRandomWords(context.Background(), 1))
}
