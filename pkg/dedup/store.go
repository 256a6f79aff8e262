package dedup

import (
	"fmt"
	"image"
	"os"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"mediagrab/pkg/utils"
)

// Store deduplicates downloads two ways: exact URL fingerprints gate
// re-downloads, and optional perceptual hashing catches the same picture
// served from different URLs.
type Store struct {
	mu         sync.Mutex
	downloaded map[string]struct{} // URL fingerprints of completed downloads
	perceptual map[string]struct{} // average-hash digests of stored images
	usePHash   bool
}

// NewStore creates a Store. usePHash enables the perceptual gate.
func NewStore(usePHash bool) *Store {
	return &Store{
		downloaded: make(map[string]struct{}),
		perceptual: make(map[string]struct{}),
		usePHash:   usePHash,
	}
}

// ShouldProcess reports whether the normalized media URL still needs
// downloading and reserves it. The reservation keeps two workers on the
// same page from downloading the same URL twice; a failed download is
// released with ReleaseURL.
func (s *Store) ShouldProcess(normalizedURL string) bool {
	fp := utils.URLFingerprint(normalizedURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.downloaded[fp]; done {
		return false
	}
	s.downloaded[fp] = struct{}{}
	return true
}

// ReleaseURL drops a reservation after a failed download so a later page
// can retry the URL.
func (s *Store) ReleaseURL(normalizedURL string) {
	fp := utils.URLFingerprint(normalizedURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.downloaded, fp)
}

// PerceptualCheck decides whether the image file at path duplicates an
// already stored image and returns its digest. Nothing is recorded here:
// callers commit the digest with AddPerceptual once the file is durably in
// place, mirroring how ReleaseURL unwinds an exact-fingerprint reservation.
// Undecodable files return an error. No-op when perceptual hashing is off.
func (s *Store) PerceptualCheck(path string) (isDup bool, digest string, err error) {
	if !s.usePHash {
		return false, "", nil
	}

	digest, err = fileAverageHash(path)
	if err != nil {
		return false, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, seen := s.perceptual[digest]
	return seen, digest, nil
}

// AddPerceptual records a digest returned by PerceptualCheck. Empty digests
// (perceptual hashing off) are ignored.
func (s *Store) AddPerceptual(digest string) {
	if digest == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perceptual[digest] = struct{}{}
}

// DownloadedCount returns the number of unique downloaded URLs.
func (s *Store) DownloadedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.downloaded)
}

// SnapshotDownloaded returns the URL fingerprints for checkpointing.
func (s *Store) SnapshotDownloaded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.downloaded))
	for fp := range s.downloaded {
		out = append(out, fp)
	}
	return out
}

// SnapshotPerceptual returns the perceptual digests for checkpointing.
func (s *Store) SnapshotPerceptual() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.perceptual))
	for d := range s.perceptual {
		out = append(out, d)
	}
	return out
}

// Restore seeds both sets from a checkpoint.
func (s *Store) Restore(downloaded, perceptual []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fp := range downloaded {
		s.downloaded[fp] = struct{}{}
	}
	for _, d := range perceptual {
		s.perceptual[d] = struct{}{}
	}
}

// fileAverageHash decodes the image and returns its average-hash digest.
func fileAverageHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: opening %s: %v", utils.ErrFilesystem, path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("%w: decoding %s: %v", utils.ErrInvalidMedia, path, err)
	}

	hash, err := goimagehash.AverageHash(img)
	if err != nil {
		return "", fmt.Errorf("%w: hashing %s: %v", utils.ErrInvalidMedia, path, err)
	}
	return hash.ToString(), nil
}
