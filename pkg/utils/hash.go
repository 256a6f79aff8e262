package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// URLFingerprint computes the exact-content dedup key for a normalized
// media URL: the hex SHA-256 of the URL string.
func URLFingerprint(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

// ShortURLHash returns the first n hex characters of a URL's SHA-256,
// used to disambiguate generated filenames.
func ShortURLHash(rawURL string, n int) string {
	h := URLFingerprint(rawURL)
	if n > len(h) {
		n = len(h)
	}
	return h[:n]
}

// CalculateFileSHA256 computes the SHA-256 hash of a file's content.
func CalculateFileSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
