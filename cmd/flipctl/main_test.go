package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flipcoin/internal/fairness"
)

const playerWords = "1,2,3,4,5,6,7,8,9,10,11,12,13,14,15,16"

func TestParsePreimage(t *testing.T) {
	p, err := parsePreimage(playerWords)
	require.NoError(t, err)
	assert.Equal(t, uint32(16), p[15])

	_, err = parsePreimage("1,2,3")
	assert.Error(t, err)
	_, err = parsePreimage(strings.Repeat("4294967296,", 15) + "1")
	assert.Error(t, err)
	_, err = parsePreimage("")
	assert.Error(t, err)
}

func TestCommitCommand(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, cmdCommit([]string{"-preimage", playerWords}, &out))

	var got secretOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	p, _ := parsePreimage(playerWords)
	assert.Equal(t, fairness.Commit(p), got.Commit)
	assert.Equal(t, got.Commit.BigInt().String(), got.Decimal)
}

func TestSecretCommand(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, cmdSecret(nil, &out))

	var got secretOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.True(t, got.Commit.Matches(got.Preimage))
}

func TestRevealRequiresHouseNode(t *testing.T) {
	err := cmdReveal([]string{"-preimage", playerWords}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestVerifyRejectsMissingKey(t *testing.T) {
	err := cmdVerify([]string{"-keys", t.TempDir(), "-proof", "AAEC", "-signals", "1,2,3,1"}, &bytes.Buffer{})
	assert.Error(t, err)
}
