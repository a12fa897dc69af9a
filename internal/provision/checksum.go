// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ChecksumsAsset is the file name of a release's checksum list.
const ChecksumsAsset = "SHA256SUMS"

var (
	// ErrChecksumMismatch is wrapped by ChecksumError.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrNoChecksum is returned when the checksum list has no entry for the
	// archive.
	ErrNoChecksum = errors.New("archive not listed in checksums")

	errNoValidEntries = errors.New("no valid checksum entries found")
)

// ChecksumError reports a downloaded archive whose digest differs from the
// published one.
type ChecksumError struct {
	File     string
	Expected string
	Got      string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum verification failed for %s: expected %s, got %s", e.File, e.Expected, e.Got)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// ParseChecksums reads sha256sum output ("<hex>  <name>" per line) into a
// name to digest map. Malformed lines are skipped.
func ParseChecksums(r io.Reader) (map[string]string, error) {
	sums := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		hash, name, ok := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		if !ok {
			continue
		}
		// "*name" marks binary mode in sha256sum output.
		name = strings.TrimPrefix(strings.TrimSpace(name), "*")
		if name == "" || !isHexDigest(hash) {
			continue
		}
		sums[name] = strings.ToLower(hash)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading checksums: %w", err)
	}
	if len(sums) == 0 {
		return nil, errNoValidEntries
	}
	return sums, nil
}

// VerifyFile compares the SHA-256 digest of path with expected.
func VerifyFile(path, expected string) error {
	got, err := fileDigest(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, expected) {
		return &ChecksumError{File: path, Expected: strings.ToLower(expected), Got: got}
	}
	return nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isHexDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
