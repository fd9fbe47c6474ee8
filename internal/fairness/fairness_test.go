package fairness

import (
	"math/big"
	"path/filepath"
	"strings"
	"testing"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/test"
)

func fixture() (Preimage, Preimage) {
	var player, house Preimage
	for i := 0; i < WordCount; i++ {
		player[i] = uint32(i + 1)
		house[i] = uint32(i + 100)
	}
	return player, house
}

func TestResolveFixture(t *testing.T) {
	player, house := fixture()

	word, offset, err := Locate(137)
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if word != 4 || offset != 9 {
		t.Fatalf("Locate(137) = (%d, %d), want (4, 9)", word, offset)
	}
	if player[word] != 5 || house[word] != 104 {
		t.Fatalf("selected words = (%d, %d), want (5, 104)", player[word], house[word])
	}

	flip, err := Resolve(player, house, 137)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if flip.PlayerBit != 0 || flip.HouseBit != 0 || flip.Outcome != 0 {
		t.Errorf("flip = %+v, want all zero bits", flip)
	}
}

func TestResolveOneBit(t *testing.T) {
	player, house := fixture()
	// word 0, offset 0: player 1 has bit 1, house 100 has bit 0
	flip, err := Resolve(player, house, 0)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if flip.PlayerBit != 1 || flip.HouseBit != 0 || flip.Outcome != 1 {
		t.Errorf("flip = %+v, want player bit 1, outcome 1", flip)
	}
}

func TestPreimageBit(t *testing.T) {
	player, _ := fixture()
	// word 4 of the player fixture is 5 = 0b101
	for idx, want := range map[int]uint8{128: 1, 129: 0, 130: 1, 137: 0} {
		got, err := player.Bit(idx)
		if err != nil || got != want {
			t.Errorf("Bit(%d) = (%d, %v), want %d", idx, got, err, want)
		}
	}
	if _, err := player.Bit(IndexSpace); err == nil {
		t.Error("Bit(512) should fail")
	}
}

func TestSaveKeysReportPath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent", ProvingKeyFile)
	err := SaveProvingKey(missing, groth16.NewProvingKey(Curve))
	if err == nil || !strings.Contains(err.Error(), "create proving key "+missing) {
		t.Fatalf("SaveProvingKey error = %v", err)
	}
	missing = filepath.Join(t.TempDir(), "absent", VerifyingKeyFile)
	err = SaveVerifyingKey(missing, groth16.NewVerifyingKey(Curve))
	if err == nil || !strings.Contains(err.Error(), "create verifying key "+missing) {
		t.Fatalf("SaveVerifyingKey error = %v", err)
	}
}

func TestLocateBounds(t *testing.T) {
	for _, idx := range []int{-1, IndexSpace, 1000} {
		if _, _, err := Locate(idx); err == nil {
			t.Errorf("Locate(%d) should fail", idx)
		}
	}
	if w, o, err := Locate(IndexSpace - 1); err != nil || w != 15 || o != 31 {
		t.Errorf("Locate(511) = (%d, %d, %v), want (15, 31, nil)", w, o, err)
	}
}

func TestCommitDeterministic(t *testing.T) {
	player, house := fixture()
	if Commit(player) != Commit(player) {
		t.Fatal("commitment should be deterministic")
	}
	if Commit(player) == Commit(house) {
		t.Fatal("distinct preimages should not share a commitment")
	}
	if !Commit(player).Matches(player) || Commit(player).Matches(house) {
		t.Error("Matches disagrees with Commit")
	}

	c := Commit(player)
	parsed, err := ParseCommitment(c.String())
	if err != nil || parsed != c {
		t.Errorf("hex round trip failed: %v", err)
	}
	parsed, err = ParseCommitment(c.BigInt().String())
	if err != nil || parsed != c {
		t.Errorf("decimal round trip failed: %v", err)
	}
}

func TestParseCommitmentRejectsOutOfField(t *testing.T) {
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := ParseCommitment(tooBig.String()); err == nil {
		t.Error("values outside the scalar field must be rejected")
	}
	if _, err := ParseCommitment("not-a-number"); err == nil {
		t.Error("garbage must be rejected")
	}
}

func TestPreimageFromUint64s(t *testing.T) {
	words := make([]uint64, WordCount)
	words[3] = 1 << 32
	if _, err := PreimageFromUint64s(words); err == nil {
		t.Error("word above 32 bits must be rejected")
	}
	if _, err := PreimageFromUint64s(words[:3]); err == nil {
		t.Error("short preimage must be rejected")
	}
}

func assignment(player, house Preimage, bitIndex int, outcome uint8) *Circuit {
	a := &Circuit{
		PlayerCommit: Commit(player).BigInt(),
		HouseCommit:  Commit(house).BigInt(),
		BitIndex:     bitIndex,
		Outcome:      outcome,
	}
	for i := 0; i < WordCount; i++ {
		a.PlayerPreimage[i] = player[i]
		a.HousePreimage[i] = house[i]
	}
	return a
}

func TestCircuitSolved(t *testing.T) {
	player, house := fixture()
	if err := test.IsSolved(&Circuit{}, assignment(player, house, 137, 0), Curve.ScalarField()); err != nil {
		t.Fatalf("fixture should satisfy the circuit: %v", err)
	}
	if err := test.IsSolved(&Circuit{}, assignment(player, house, 0, 1), Curve.ScalarField()); err != nil {
		t.Fatalf("index 0 should satisfy the circuit with outcome 1: %v", err)
	}
}

func TestCircuitRejectsWrongOutcome(t *testing.T) {
	player, house := fixture()
	if err := test.IsSolved(&Circuit{}, assignment(player, house, 137, 1), Curve.ScalarField()); err == nil {
		t.Fatal("flipped outcome must not satisfy the circuit")
	}
	if err := test.IsSolved(&Circuit{}, assignment(player, house, 137, 2), Curve.ScalarField()); err == nil {
		t.Fatal("non-boolean outcome must not satisfy the circuit")
	}
}

func TestCircuitRejectsWrongCommitment(t *testing.T) {
	player, house := fixture()
	a := assignment(player, house, 137, 0)
	a.HouseCommit = Commit(player).BigInt()
	if err := test.IsSolved(&Circuit{}, a, Curve.ScalarField()); err == nil {
		t.Fatal("mismatched house commitment must not satisfy the circuit")
	}
}

func TestCircuitRejectsIndexOutOfRange(t *testing.T) {
	player, house := fixture()
	// 137 + 512 selects the same bits modulo 512 but must still be rejected
	if err := test.IsSolved(&Circuit{}, assignment(player, house, 137+IndexSpace, 0), Curve.ScalarField()); err == nil {
		t.Fatal("bit index above 511 must not satisfy the circuit")
	}
}

func TestProverEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}
	ccs, err := Compile()
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	dir := t.TempDir()
	pk, _, err := SetupOrLoadKeys(ccs, dir)
	if err != nil {
		t.Fatalf("SetupOrLoadKeys failed: %v", err)
	}
	// second call must load what the first one saved
	if _, _, err := SetupOrLoadKeys(ccs, dir); err != nil {
		t.Fatalf("reloading keys failed: %v", err)
	}

	player, house := fixture()
	proof, err := NewProver(ccs, pk).Prove(player, house, 137)
	if err != nil {
		t.Fatalf("Prove failed: %v", err)
	}
	if len(proof.Bytes) == 0 {
		t.Fatal("proof should not be empty")
	}
	if proof.Signals[SignalOutcome].Int64() != 0 || proof.Signals[SignalBitIndex].Int64() != 137 {
		t.Errorf("unexpected public signals %v", proof.Signals.Strings())
	}
	if proof.Signals[SignalPlayerCommit].Cmp(Commit(player).BigInt()) != 0 {
		t.Error("player commitment signal mismatch")
	}
}
