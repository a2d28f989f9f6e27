package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// ComputeBlake3Hash computes the BLAKE3 hash of a file. The safety section
// of the config decides what a viewer can do to a physical device, so
// `config check --pin` lets operators pin the authorized config content.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

// PinPath returns the location of the pinned-hash file for configPath.
func PinPath(configPath string) string {
	return configPath + ".pin"
}

// WritePin records the current config hash next to the file.
func WritePin(configPath string) (string, error) {
	hash, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(PinPath(configPath), []byte(hash+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to write pin: %w", err)
	}
	return hash, nil
}

// VerifyPin checks configPath against its pinned hash. A missing pin file is
// not an error; it returns ("", nil) so callers can warn instead of fail.
func VerifyPin(configPath string) (string, error) {
	data, err := os.ReadFile(PinPath(configPath))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read pin: %w", err)
	}
	expected := string(trimNewline(data))
	if err := VerifyFileHash(configPath, expected); err != nil {
		return "", fmt.Errorf("config integrity check failed: %w\n"+
			"If you edited the config intentionally, run: pulsegate config pin", err)
	}
	return expected, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
