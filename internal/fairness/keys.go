package fairness

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// Curve is the pairing curve the proofs live on.
const Curve = ecc.BN254

const (
	ProvingKeyFile   = "flip.pk"
	VerifyingKeyFile = "flip.vk"
)

// Compile builds the R1CS for Circuit.
func Compile() (constraint.ConstraintSystem, error) {
	var c Circuit
	ccs, err := frontend.Compile(Curve.ScalarField(), r1cs.NewBuilder, &c)
	if err != nil {
		return nil, fmt.Errorf("circuit compilation failed: %w", err)
	}
	return ccs, nil
}

// SaveProvingKey saves a Groth16 proving key to disk.
func SaveProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create proving key %s: %w", path, err)
	}
	defer f.Close()
	if _, err := pk.WriteTo(f); err != nil {
		return fmt.Errorf("write proving key %s: %w", path, err)
	}
	return nil
}

// SaveVerifyingKey saves a Groth16 verifying key to disk.
func SaveVerifyingKey(path string, vk groth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create verifying key %s: %w", path, err)
	}
	defer f.Close()
	if _, err := vk.WriteTo(f); err != nil {
		return fmt.Errorf("write verifying key %s: %w", path, err)
	}
	return nil
}

// LoadProvingKey loads a Groth16 proving key from disk.
func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(Curve)
	if _, err := pk.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("read proving key %s: %w", path, err)
	}
	return pk, nil
}

// LoadVerifyingKey loads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(Curve)
	if _, err := vk.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("read verifying key %s: %w", path, err)
	}
	return vk, nil
}

// SetupOrLoadKeys loads the key pair from dir, or runs a Groth16 setup and saves it when either
// key is missing.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, dir string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pkPath := filepath.Join(dir, ProvingKeyFile)
	vkPath := filepath.Join(dir, VerifyingKeyFile)

	pk, pkErr := LoadProvingKey(pkPath)
	vk, vkErr := LoadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return pk, vk, nil
	}
	if !errors.Is(pkErr, os.ErrNotExist) && pkErr != nil {
		return nil, nil, pkErr
	}
	if !errors.Is(vkErr, os.ErrNotExist) && vkErr != nil {
		return nil, nil, vkErr
	}

	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, fmt.Errorf("groth16 setup: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, nil, err
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}
