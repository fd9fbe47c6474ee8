// flipctl is the party-side tool: it generates secrets, computes commitments, runs the circuit
// setup, proves outcomes and reveals preimages to a house node.
//
// Usage:
//
//	flipctl setup   -keys keys
//	flipctl secret
//	flipctl commit  -preimage 1,2,...,16
//	flipctl prove   -keys keys -player 1,2,... -house 100,101,... -index 137
//	flipctl verify  -keys keys -proof <base64> -signals c1,c2,idx,outcome
//	flipctl reveal  -house-node http://localhost:7000 -bet 0 -preimage 1,2,...
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"flipcoin/internal/fairness"
	"flipcoin/internal/logger"
	"flipcoin/internal/verifier"
	"flipcoin/p2p"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	cmds := map[string]func(args []string, out io.Writer) error{
		"setup":  cmdSetup,
		"secret": cmdSecret,
		"commit": cmdCommit,
		"prove":  cmdProve,
		"verify": cmdVerify,
		"reveal": cmdReveal,
	}
	cmd, ok := cmds[os.Args[1]]
	if !ok {
		usage(os.Stderr)
		os.Exit(2)
	}
	if err := cmd(os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "flipctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: flipctl <setup|secret|commit|prove|verify|reveal> [flags]")
}

type secretOutput struct {
	Preimage fairness.Preimage   `json:"preimage"`
	Commit   fairness.Commitment `json:"commit"`
	Decimal  string              `json:"commit_decimal"`
}

type proveOutput struct {
	Proof         string   `json:"proof"`
	PublicSignals []string `json:"public_signals"`
	Outcome       uint8    `json:"outcome"`
	PlayerBit     uint8    `json:"player_bit"`
	HouseBit      uint8    `json:"house_bit"`
}

func cmdSetup(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	dir := fs.String("keys", "keys", "directory for the proving and verifying keys")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger.BridgeCircuitLogs(nil)

	start := time.Now()
	ccs, err := fairness.Compile()
	if err != nil {
		return err
	}
	if _, _, err := fairness.SetupOrLoadKeys(ccs, *dir); err != nil {
		return err
	}
	fmt.Fprintf(out, "circuit: %d constraints\nproving key: %s\nverifying key: %s\ntook %s\n",
		ccs.GetNbConstraints(),
		filepath.Join(*dir, fairness.ProvingKeyFile),
		filepath.Join(*dir, fairness.VerifyingKeyFile),
		time.Since(start).Round(time.Millisecond),
	)
	return nil
}

func cmdSecret(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("secret", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	p, err := fairness.NewPreimage()
	if err != nil {
		return err
	}
	return printSecret(out, p)
}

func cmdCommit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("commit", flag.ContinueOnError)
	raw := fs.String("preimage", "", "16 comma separated uint32 words")
	if err := fs.Parse(args); err != nil {
		return err
	}
	p, err := parsePreimage(*raw)
	if err != nil {
		return err
	}
	return printSecret(out, p)
}

func cmdProve(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("prove", flag.ContinueOnError)
	dir := fs.String("keys", "keys", "directory holding the proving key")
	playerRaw := fs.String("player", "", "player preimage, 16 comma separated words")
	houseRaw := fs.String("house", "", "house preimage, 16 comma separated words")
	index := fs.Int("index", -1, "random bit index in [0, 511]")
	if err := fs.Parse(args); err != nil {
		return err
	}
	player, err := parsePreimage(*playerRaw)
	if err != nil {
		return fmt.Errorf("player: %w", err)
	}
	house, err := parsePreimage(*houseRaw)
	if err != nil {
		return fmt.Errorf("house: %w", err)
	}
	logger.BridgeCircuitLogs(nil)

	ccs, err := fairness.Compile()
	if err != nil {
		return err
	}
	pk, err := fairness.LoadProvingKey(filepath.Join(*dir, fairness.ProvingKeyFile))
	if err != nil {
		return fmt.Errorf("load proving key (run flipctl setup first): %w", err)
	}
	proof, err := fairness.NewProver(ccs, pk).Prove(player, house, *index)
	if err != nil {
		return err
	}
	return writeJSON(out, proveOutput{
		Proof:         base64.StdEncoding.EncodeToString(proof.Bytes),
		PublicSignals: proof.Signals.Strings(),
		Outcome:       proof.Flip.Outcome,
		PlayerBit:     proof.Flip.PlayerBit,
		HouseBit:      proof.Flip.HouseBit,
	})
}

func cmdVerify(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	dir := fs.String("keys", "keys", "directory holding the verifying key")
	rawProof := fs.String("proof", "", "base64 proof as printed by prove")
	rawSignals := fs.String("signals", "", "4 comma separated public signals")
	if err := fs.Parse(args); err != nil {
		return err
	}
	proof, err := base64.StdEncoding.DecodeString(*rawProof)
	if err != nil {
		return fmt.Errorf("proof: %w", err)
	}
	signals, err := fairness.ParsePublicSignals(strings.Split(*rawSignals, ","))
	if err != nil {
		return err
	}
	v, err := verifier.Load(filepath.Join(*dir, fairness.VerifyingKeyFile), nil)
	if err != nil {
		return err
	}
	if err := v.Verify(context.Background(), proof, signals); err != nil {
		return err
	}
	fmt.Fprintf(out, "proof valid, outcome %s\n", signals[fairness.SignalOutcome])
	return nil
}

func cmdReveal(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reveal", flag.ContinueOnError)
	target := fs.String("house-node", "", "house p2p address (host:port or URL)")
	id := fs.String("node-id", "player", "this node's id")
	bet := fs.Uint64("bet", 0, "bet id")
	raw := fs.String("preimage", "", "player preimage, 16 comma separated words")
	timeout := fs.Duration("timeout", 2*time.Minute, "how long to wait for the house to settle")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *target == "" {
		return errors.New("-house-node is required")
	}
	p, err := parsePreimage(*raw)
	if err != nil {
		return err
	}
	log, err := logger.New("flipctl", "local", "warn")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	node := p2p.NewNode(*id, "", map[string]string{"house": *target}, *timeout, log)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := node.SendMessage(ctx, "house", p2p.TypePreimageReveal, p2p.RevealPayload{BetID: *bet, Preimage: p}); err != nil {
		return err
	}
	log.Debug("reveal accepted", zap.Uint64("bet_id", *bet))
	fmt.Fprintf(out, "bet %d settled by house\n", *bet)
	return nil
}

func printSecret(out io.Writer, p fairness.Preimage) error {
	c := fairness.Commit(p)
	return writeJSON(out, secretOutput{Preimage: p, Commit: c, Decimal: c.BigInt().String()})
}

func parsePreimage(raw string) (fairness.Preimage, error) {
	if raw == "" {
		return fairness.Preimage{}, errors.New("preimage is required")
	}
	fields := strings.Split(raw, ",")
	words := make([]uint64, len(fields))
	for i, f := range fields {
		w, err := strconv.ParseUint(strings.TrimSpace(f), 0, 32)
		if err != nil {
			return fairness.Preimage{}, fmt.Errorf("word %d: %w", i, err)
		}
		words[i] = w
	}
	return fairness.PreimageFromUint64s(words)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
