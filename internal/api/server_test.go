package api

import (
	"bytes"
	"context"
	"encoding/json"
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

	"flipcoin/internal/fairness"
	"flipcoin/internal/oracle"
	"flipcoin/internal/settlement"
	"flipcoin/internal/verifier"
	"flipcoin/internal/wager"
)

const oracleToken = "s3cret"

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	oracleID = common.HexToAddress("0x000000000000000000000000000000000000beef")
	player   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	house    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

// recordingCoordinator accepts every request and remembers its id.
type recordingCoordinator struct {
	mu  sync.Mutex
	ids []uint64
}

func (c *recordingCoordinator) RequestRandomWords(_ context.Context, requestID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, requestID)
	return nil
}

type testServer struct {
	handler http.Handler
	coord   *recordingCoordinator
	vault   *settlement.Vault
}

func newTestServer(t *testing.T, resolver wager.Resolver, opts Options) *testServer {
	t.Helper()
	log := zap.NewNop()
	vault := settlement.NewVault()
	coord := &recordingCoordinator{}
	adapter := oracle.NewAdapter(oracleID, coord, log)

	engine, err := wager.NewEngine(wager.Options{
		Admin:  admin,
		Oracle: oracleID,
		Params: wager.Params{
			MinBet:     uint256.MustFromDecimal("1000000000000000"),
			MaxBet:     uint256.MustFromDecimal("1000000000000000000"),
			HouseFeeBP: 100,
		},
		AllowTestRandomness: true,
		Resolver:            resolver,
		Bank:                vault,
		Randomness:          adapter,
		Log:                 log,
	})
	require.NoError(t, err)
	adapter.Attach(engine)

	if opts.OracleToken == "" {
		opts.OracleToken = oracleToken
	}
	opts.Vault = vault
	return &testServer{
		handler: NewServer(log, engine, adapter, opts).Router(),
		coord:   coord,
		vault:   vault,
	}
}

func (s *testServer) do(t *testing.T, method, path string, caller *common.Address, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != nil {
		req.Header.Set(AccountHeader, caller.Hex())
	}
	if path == "/oracle/fulfill" {
		req.Header.Set("Authorization", "Bearer "+oracleToken)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func fixture() (fairness.Preimage, fairness.Preimage) {
	var p, h fairness.Preimage
	for i := range p {
		p[i] = uint32(i + 1)
		h[i] = uint32(i + 100)
	}
	return p, h
}

func words(p fairness.Preimage) []uint64 {
	out := make([]uint64, len(p))
	for i, w := range p {
		out[i] = uint64(w)
	}
	return out
}

func TestRevealFlow(t *testing.T) {
	s := newTestServer(t, wager.NewRevealResolver(), Options{})
	p, h := fixture()

	for _, a := range []common.Address{player, house} {
		code, body := s.do(t, http.MethodPost, "/accounts/"+a.Hex()+"/deposit", nil, depositRequest{Amount: "1000000000000000000"})
		require.Equal(t, http.StatusOK, code, body)
	}

	code, body := s.do(t, http.MethodPost, "/bets", &player, createBetRequest{
		House:        house.Hex(),
		PlayerCommit: fairness.Commit(p).String(),
		Amount:       "10000000000000000",
	})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, float64(0), body["id"])
	assert.Equal(t, "created", body["status"])

	code, body = s.do(t, http.MethodPost, "/bets/0/house-commit", &house, houseCommitRequest{Commit: fairness.Commit(h).String()})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "house_committed", body["status"])
	require.Equal(t, []uint64{1}, s.coord.ids)

	// 0x289 is 649, which is 137 mod 512.
	code, body = s.do(t, http.MethodPost, "/oracle/fulfill", nil, fulfillRequest{RequestID: 1, RandomWord: "0x0289"})
	require.Equal(t, http.StatusNoContent, code, body)
	code, body = s.do(t, http.MethodPost, "/oracle/fulfill", nil, fulfillRequest{RequestID: 1, RandomWord: "0x89"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "replay", body["class"])

	code, body = s.do(t, http.MethodGet, "/bets/0", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(137), body["random_index"])
	assert.Equal(t, "randomness_fulfilled", body["status"])

	settle := settleRequest{PlayerPreimage: words(p), HousePreimage: words(h)}
	code, body = s.do(t, http.MethodPost, "/bets/0/settle", &player, settle)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "settled", body["status"])
	result := body["result"].(map[string]any)
	assert.Equal(t, house, common.HexToAddress(result["winner"].(string)))
	assert.Equal(t, "19800000000000000", result["payout"])
	assert.Equal(t, "200000000000000", result["fee"])

	code, body = s.do(t, http.MethodPost, "/bets/0/settle", &house, settle)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "replay", body["class"])

	code, body = s.do(t, http.MethodGet, "/accounts/"+house.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1009800000000000000", body["balance"])
}

func TestListBets(t *testing.T) {
	s := newTestServer(t, wager.NewRevealResolver(), Options{})
	p, _ := fixture()
	code, body := s.do(t, http.MethodPost, "/accounts/"+player.Hex()+"/deposit", nil, depositRequest{Amount: "1000000000000000000"})
	require.Equal(t, http.StatusOK, code, body)
	for i := 0; i < 3; i++ {
		code, body = s.do(t, http.MethodPost, "/bets", &player, createBetRequest{
			House:        house.Hex(),
			PlayerCommit: fairness.Commit(p).String(),
			Amount:       "10000000000000000",
		})
		require.Equal(t, http.StatusCreated, code, body)
	}

	code, body = s.do(t, http.MethodGet, "/bets?from=1&limit=5", nil, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, float64(3), body["total"])
	bets := body["bets"].([]any)
	require.Len(t, bets, 2)
	assert.Equal(t, float64(1), bets[0].(map[string]any)["id"])
	assert.Equal(t, "created", bets[1].(map[string]any)["status"])

	code, body = s.do(t, http.MethodGet, "/bets?from=9", nil, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Empty(t, body["bets"])

	code, _ = s.do(t, http.MethodGet, "/bets?limit=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodGet, "/bets?from=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, wager.NewRevealResolver(), Options{})
	p, _ := fixture()
	require.NoError(t, s.vault.Deposit(player, uint256.MustFromDecimal("1000000000000000000")))

	code, _ := s.do(t, http.MethodPost, "/bets", nil, createBetRequest{})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := s.do(t, http.MethodPost, "/bets", &player, createBetRequest{
		House:        house.Hex(),
		PlayerCommit: fairness.Commit(p).String(),
		Amount:       "1",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", body["class"])

	code, _ = s.do(t, http.MethodGet, "/bets/7", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(t, http.MethodGet, "/bets/seven", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(t, http.MethodPost, "/bets", &player, createBetRequest{
		House:        house.Hex(),
		PlayerCommit: fairness.Commit(p).String(),
		Amount:       "10000000000000000",
	})
	require.Equal(t, http.StatusCreated, code, body)

	code, _ = s.do(t, http.MethodPost, "/bets/0/house-commit", &player, houseCommitRequest{Commit: "0x01"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodPost, "/bets/0/settle", &player, settleRequest{PlayerPreimage: words(p)})
	assert.Equal(t, http.StatusBadRequest, code, "house preimage missing")

	code, _ = s.do(t, http.MethodPost, "/bets/0/settle", &player, settleRequest{PlayerPreimage: words(p), HousePreimage: words(p)})
	assert.Equal(t, http.StatusConflict, code, "settle before randomness")

	code, _ = s.do(t, http.MethodPost, "/admin/fee", &player, feeRequest{HouseFeeBP: 200})
	assert.Equal(t, http.StatusForbidden, code)
	code, body = s.do(t, http.MethodPost, "/admin/fee", &admin, feeRequest{HouseFeeBP: 2000})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "fee")
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t, wager.NewRevealResolver(), Options{})

	code, body := s.do(t, http.MethodPost, "/admin/fee", &admin, feeRequest{HouseFeeBP: 250})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, float64(250), body["house_fee_bp"])
	assert.Equal(t, float64(1000), body["fee_ceiling_bp"])
	assert.Equal(t, "reveal", body["variant"])

	code, body = s.do(t, http.MethodPost, "/admin/limits", &admin, limitsRequest{MinBet: "5", MaxBet: "50"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "5", body["min_bet"])
	assert.Equal(t, "50", body["max_bet"])

	code, _ = s.do(t, http.MethodPost, "/admin/limits", &admin, limitsRequest{MinBet: "50", MaxBet: "5"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(t, http.MethodPost, "/admin/withdraw", &admin, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "0", body["amount"])
}

func TestTestRandomnessRoute(t *testing.T) {
	s := newTestServer(t, wager.NewRevealResolver(), Options{})
	p, h := fixture()
	for _, a := range []common.Address{player, house} {
		require.NoError(t, s.vault.Deposit(a, uint256.MustFromDecimal("1000000000000000000")))
	}
	code, body := s.do(t, http.MethodPost, "/bets", &player, createBetRequest{
		House:        house.Hex(),
		PlayerCommit: fairness.Commit(p).String(),
		Amount:       "10000000000000000",
	})
	require.Equal(t, http.StatusCreated, code, body)
	code, body = s.do(t, http.MethodPost, "/bets/0/house-commit", &house, houseCommitRequest{Commit: fairness.Commit(h).String()})
	require.Equal(t, http.StatusOK, code, body)

	code, _ = s.do(t, http.MethodPost, "/bets/0/test-randomness", &player, testRandomnessRequest{Index: 0})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, http.MethodPost, "/bets/0/test-randomness", &admin, testRandomnessRequest{Index: 512})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(t, http.MethodPost, "/bets/0/test-randomness", &admin, testRandomnessRequest{Index: 0})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, float64(0), body["random_index"])

	code, body = s.do(t, http.MethodPost, "/bets/0/settle", &house, settleRequest{PlayerPreimage: words(p), HousePreimage: words(h)})
	require.Equal(t, http.StatusOK, code, body)
	result := body["result"].(map[string]any)
	assert.Equal(t, player, common.HexToAddress(result["winner"].(string)))
}

// rejectAll fails every proof.
type rejectAll struct{}

func (rejectAll) Verify(context.Context, []byte, fairness.PublicSignals) error {
	return verifier.ErrProofRejected
}

func TestProofVariantRejectsBadInput(t *testing.T) {
	s := newTestServer(t, wager.NewProofResolver(rejectAll{}), Options{})

	code, _ := s.do(t, http.MethodPost, "/bets/0/settle", &player, settleRequest{Proof: "not base64!"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodPost, "/bets/0/settle", &player, settleRequest{Proof: "AAEC", PublicSignals: []string{"1", "2"}})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodPost, "/bets/0/settle", &player, settleRequest{Proof: "AAEC", PublicSignals: []string{"1", "2", "3", "1"}})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestOracleAuth(t *testing.T) {
	s := newTestServer(t, wager.NewRevealResolver(), Options{})
	req := httptest.NewRequest(http.MethodPost, "/oracle/fulfill", bytes.NewBufferString(`{"request_id":1,"random_word":"1"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, wager.NewRevealResolver(), Options{RequestsPerSecond: 0.001, Burst: 2})

	for i := 0; i < 2; i++ {
		code, _ := s.do(t, http.MethodPost, "/admin/withdraw", &admin, nil)
		require.Equal(t, http.StatusOK, code)
	}
	code, body := s.do(t, http.MethodPost, "/admin/withdraw", &admin, nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate_limited", body["class"])

	code, _ = s.do(t, http.MethodPost, "/admin/withdraw", &player, nil)
	assert.Equal(t, http.StatusForbidden, code, "other accounts keep their own bucket")
}

func TestLimiterPrune(t *testing.T) {
	l := newAccountLimiter(1, 1)
	l.Allow("a")
	l.Allow("b")
	assert.Equal(t, 0, l.Prune(time.Now()))
	assert.Equal(t, 2, l.Prune(time.Now().Add(time.Hour)))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusFor(wager.ErrAlreadySettled))
	assert.Equal(t, http.StatusConflict, StatusFor(oracle.ErrDuplicateFulfillment))
	assert.Equal(t, http.StatusConflict, StatusFor(wager.ErrPrecondition))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(wager.ErrInvalidPublicInput))
	assert.Equal(t, http.StatusBadRequest, StatusFor(settlement.ErrInsufficientFunds))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(assert.AnError))
}
