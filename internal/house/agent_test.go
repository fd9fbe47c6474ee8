package house

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flipcoin/internal/events"
	"flipcoin/internal/fairness"
	"flipcoin/internal/settlement"
	"flipcoin/internal/wager"
	"flipcoin/p2p"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	oracleID = common.HexToAddress("0x000000000000000000000000000000000000beef")
	player   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	houseID  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	stake    = uint256.MustFromDecimal("10000000000000000")
)

type stubProver struct{ calls int }

func (p *stubProver) Prove(player, house fairness.Preimage, idx int) (*fairness.Proof, error) {
	p.calls++
	flip, err := fairness.Resolve(player, house, idx)
	if err != nil {
		return nil, err
	}
	return &fairness.Proof{
		Bytes:   []byte{1},
		Signals: fairness.NewPublicSignals(fairness.Commit(player), fairness.Commit(house), idx, flip.Outcome),
		Flip:    flip,
	}, nil
}

type acceptAll struct{}

func (acceptAll) Verify(context.Context, []byte, fairness.PublicSignals) error { return nil }

func newEngine(t *testing.T, resolver wager.Resolver) *wager.Engine {
	t.Helper()
	vault := settlement.NewVault()
	for _, a := range []common.Address{player, houseID} {
		require.NoError(t, vault.Deposit(a, uint256.MustFromDecimal("1000000000000000000")))
	}
	e, err := wager.NewEngine(wager.Options{
		Admin:  admin,
		Oracle: oracleID,
		Params: wager.Params{
			MinBet:     uint256.MustFromDecimal("1000000000000000"),
			MaxBet:     uint256.MustFromDecimal("1000000000000000000"),
			HouseFeeBP: 100,
		},
		Resolver: resolver,
		Bank:     vault,
	})
	require.NoError(t, err)
	return e
}

func openBet(t *testing.T, e *wager.Engine, a *Agent) (fairness.Preimage, uint64) {
	t.Helper()
	ctx := context.Background()
	secret, err := fairness.NewPreimage()
	require.NoError(t, err)
	bet, err := e.CreateBet(ctx, player, houseID, fairness.Commit(secret), stake)
	require.NoError(t, err)
	_, err = a.Commit(ctx, bet.ID)
	require.NoError(t, err)
	return secret, bet.ID
}

func TestRevealSettlesWithProof(t *testing.T) {
	e := newEngine(t, wager.NewProofResolver(acceptAll{}))
	prover := &stubProver{}
	a := NewAgent(houseID, e, prover, nil, zap.NewNop())
	secret, id := openBet(t, e, a)
	ctx := context.Background()

	_, err := a.Reveal(ctx, id, secret)
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, e.FulfillRandomness(ctx, oracleID, id, 42))

	var wrong fairness.Preimage
	_, err = a.Reveal(ctx, id, wrong)
	assert.ErrorIs(t, err, wager.ErrInvalidPreimage)

	bet, err := a.Reveal(ctx, id, secret)
	require.NoError(t, err)
	assert.Equal(t, wager.StatusSettled, bet.Status())
	assert.Equal(t, 1, prover.calls)
	assert.Nil(t, bet.Result.PlayerBit)
	assert.Equal(t, 0, a.Pending())

	_, err = a.Reveal(ctx, id, secret)
	assert.ErrorIs(t, err, ErrUnknownBet)
}

func TestCommitTwice(t *testing.T) {
	e := newEngine(t, wager.NewRevealResolver())
	a := NewAgent(houseID, e, nil, nil, zap.NewNop())
	_, id := openBet(t, e, a)

	_, err := a.Commit(context.Background(), id)
	assert.ErrorIs(t, err, wager.ErrAlreadyCommitted)
	assert.Equal(t, 1, a.Pending())
}

func TestCommitFailureForgetsSecret(t *testing.T) {
	e := newEngine(t, wager.NewRevealResolver())
	a := NewAgent(player, e, nil, nil, zap.NewNop())
	secret, err := fairness.NewPreimage()
	require.NoError(t, err)
	bet, err := e.CreateBet(context.Background(), player, houseID, fairness.Commit(secret), stake)
	require.NoError(t, err)

	_, err = a.Commit(context.Background(), bet.ID)
	assert.ErrorIs(t, err, wager.ErrUnauthorized)
	assert.Equal(t, 0, a.Pending())
}

func TestHandleReveal(t *testing.T) {
	e := newEngine(t, wager.NewRevealResolver())
	a := NewAgent(houseID, e, nil, nil, zap.NewNop())
	secret, id := openBet(t, e, a)
	require.NoError(t, e.FulfillRandomness(context.Background(), oracleID, id, 7))

	payload, err := json.Marshal(p2p.RevealPayload{BetID: id, Preimage: secret})
	require.NoError(t, err)
	require.NoError(t, a.HandleReveal(context.Background(), p2p.Message{Type: p2p.TypePreimageReveal, Payload: payload, SenderID: "player"}))

	bet, err := e.BetInfo(id)
	require.NoError(t, err)
	require.NotNil(t, bet.Result.PlayerBit)
	require.NotNil(t, bet.Result.HouseBit)
}

func TestOnBetCreatedCommits(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	vault := settlement.NewVault()
	for _, a := range []common.Address{player, houseID} {
		require.NoError(t, vault.Deposit(a, uint256.MustFromDecimal("1000000000000000000")))
	}
	e, err := wager.NewEngine(wager.Options{
		Admin: admin,
		Params: wager.Params{
			MinBet:     uint256.MustFromDecimal("1000000000000000"),
			MaxBet:     uint256.MustFromDecimal("1000000000000000000"),
			HouseFeeBP: 100,
		},
		Resolver:  wager.NewRevealResolver(),
		Bank:      vault,
		Publisher: bus,
	})
	require.NoError(t, err)
	a := NewAgent(houseID, e, nil, nil, zap.NewNop())
	bus.Subscribe(events.TypeBetCreated, a.OnBetCreated)

	secret, err := fairness.NewPreimage()
	require.NoError(t, err)
	bet, err := e.CreateBet(context.Background(), player, houseID, fairness.Commit(secret), stake)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		b, err := e.BetInfo(bet.ID)
		return err == nil && b.Status() == wager.StatusHouseCommitted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, a.Pending())
}
