// Package postgres is a wager.Store on a Postgres table of bets.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"flipcoin/internal/fairness"
	"flipcoin/internal/wager"
)

// Store persists bets in the bets table.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool, pins the session time zone to UTC and pings the server.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	config.ConnConfig.RuntimeParams["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type row struct {
	id           int64
	player       []byte
	house        []byte
	amount       string
	playerCommit []byte
	houseCommit  []byte
	randomIndex  *int16
	requestID    *int64
	settled      bool
	createdAt    time.Time
	winner       []byte
	payout       *string
	fee          *string
	outcome      *int16
	playerBit    *int16
	houseBit     *int16
	settledAt    *time.Time
}

func toRow(b wager.Bet) row {
	r := row{
		id:           int64(b.ID),
		player:       b.Player.Bytes(),
		house:        b.House.Bytes(),
		amount:       b.Amount.Dec(),
		playerCommit: b.PlayerCommit[:],
		settled:      b.Settled,
		createdAt:    b.CreatedAt,
	}
	if !b.HouseCommit.IsZero() {
		r.houseCommit = b.HouseCommit[:]
	}
	if b.RandomIndex != wager.NoIndex {
		idx := int16(b.RandomIndex)
		r.randomIndex = &idx
	}
	if b.RequestID != 0 {
		id := int64(b.RequestID)
		r.requestID = &id
	}
	if res := b.Result; res != nil {
		payout, fee := res.Payout.Dec(), res.Fee.Dec()
		outcome := int16(res.Outcome)
		at := res.SettledAt
		r.winner = res.Winner.Bytes()
		r.payout, r.fee = &payout, &fee
		r.outcome = &outcome
		r.playerBit = bitToSmallint(res.PlayerBit)
		r.houseBit = bitToSmallint(res.HouseBit)
		r.settledAt = &at
	}
	return r
}

func (r row) bet() (wager.Bet, error) {
	amount, err := uint256.FromDecimal(r.amount)
	if err != nil {
		return wager.Bet{}, fmt.Errorf("bet %d amount: %w", r.id, err)
	}
	b := wager.Bet{
		ID:          uint64(r.id),
		Player:      common.BytesToAddress(r.player),
		House:       common.BytesToAddress(r.house),
		Amount:      amount,
		RandomIndex: wager.NoIndex,
		Settled:     r.settled,
		CreatedAt:   r.createdAt.UTC(),
	}
	copy(b.PlayerCommit[:], r.playerCommit)
	if len(r.houseCommit) == len(fairness.Commitment{}) {
		copy(b.HouseCommit[:], r.houseCommit)
	}
	if r.randomIndex != nil {
		b.RandomIndex = int(*r.randomIndex)
	}
	if r.requestID != nil {
		b.RequestID = uint64(*r.requestID)
	}
	if r.payout != nil && r.fee != nil && r.outcome != nil {
		payout, err := uint256.FromDecimal(*r.payout)
		if err != nil {
			return wager.Bet{}, fmt.Errorf("bet %d payout: %w", r.id, err)
		}
		fee, err := uint256.FromDecimal(*r.fee)
		if err != nil {
			return wager.Bet{}, fmt.Errorf("bet %d fee: %w", r.id, err)
		}
		res := &wager.Result{
			Winner:    common.BytesToAddress(r.winner),
			Payout:    payout,
			Fee:       fee,
			Outcome:   uint8(*r.outcome),
			PlayerBit: smallintToBit(r.playerBit),
			HouseBit:  smallintToBit(r.houseBit),
		}
		if r.settledAt != nil {
			res.SettledAt = r.settledAt.UTC()
		}
		b.Result = res
	}
	return b, nil
}

const insertBet = `
INSERT INTO bets (id, player, house, amount, player_commit, created_at)
VALUES ($1, $2, $3, $4::text::numeric, $5, $6)`

func (s *Store) Insert(ctx context.Context, b wager.Bet) error {
	r := toRow(b)
	if _, err := s.pool.Exec(ctx, insertBet, r.id, r.player, r.house, r.amount, r.playerCommit, r.createdAt); err != nil {
		return fmt.Errorf("insert bet %d: %w", b.ID, err)
	}
	return nil
}

const updateBet = `
UPDATE bets SET
    house_commit = $2,
    random_index = $3,
    request_id   = $4,
    settled      = $5,
    winner       = $6,
    payout       = $7::text::numeric,
    fee          = $8::text::numeric,
    outcome      = $9,
    player_bit   = $10,
    house_bit    = $11,
    settled_at   = $12
WHERE id = $1`

func (s *Store) Update(ctx context.Context, b wager.Bet) error {
	r := toRow(b)
	tag, err := s.pool.Exec(ctx, updateBet,
		r.id, r.houseCommit, r.randomIndex, r.requestID, r.settled,
		r.winner, r.payout, r.fee, r.outcome, r.playerBit, r.houseBit, r.settledAt,
	)
	if err != nil {
		return fmt.Errorf("update bet %d: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", wager.ErrBetNotFound, b.ID)
	}
	return nil
}

const selectBets = `
SELECT id, player, house, amount::text, player_commit, house_commit, random_index, request_id,
       settled, created_at, winner, payout::text, fee::text, outcome, player_bit, house_bit, settled_at
FROM bets
ORDER BY id`

func (s *Store) All(ctx context.Context) ([]wager.Bet, error) {
	rows, err := s.pool.Query(ctx, selectBets)
	if err != nil {
		return nil, fmt.Errorf("query bets: %w", err)
	}
	defer rows.Close()

	var out []wager.Bet
	for rows.Next() {
		var r row
		if err := rows.Scan(
			&r.id, &r.player, &r.house, &r.amount, &r.playerCommit, &r.houseCommit, &r.randomIndex, &r.requestID,
			&r.settled, &r.createdAt, &r.winner, &r.payout, &r.fee, &r.outcome, &r.playerBit, &r.houseBit, &r.settledAt,
		); err != nil {
			return nil, fmt.Errorf("scan bet: %w", err)
		}
		b, err := r.bet()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bets: %w", err)
	}
	return out, nil
}

// Get loads one bet.
func (s *Store) Get(ctx context.Context, id uint64) (wager.Bet, error) {
	var r row
	err := s.pool.QueryRow(ctx, `
SELECT id, player, house, amount::text, player_commit, house_commit, random_index, request_id,
       settled, created_at, winner, payout::text, fee::text, outcome, player_bit, house_bit, settled_at
FROM bets WHERE id = $1`, int64(id)).Scan(
		&r.id, &r.player, &r.house, &r.amount, &r.playerCommit, &r.houseCommit, &r.randomIndex, &r.requestID,
		&r.settled, &r.createdAt, &r.winner, &r.payout, &r.fee, &r.outcome, &r.playerBit, &r.houseBit, &r.settledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return wager.Bet{}, fmt.Errorf("%w: %d", wager.ErrBetNotFound, id)
	}
	if err != nil {
		return wager.Bet{}, fmt.Errorf("get bet %d: %w", id, err)
	}
	return r.bet()
}

func bitToSmallint(b *uint8) *int16 {
	if b == nil {
		return nil
	}
	v := int16(*b)
	return &v
}

func smallintToBit(v *int16) *uint8 {
	if v == nil {
		return nil
	}
	b := uint8(*v)
	return &b
}
