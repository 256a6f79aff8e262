package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"mediagrab/pkg/utils"
)

// State is everything a resumed run needs: which pages were visited, which
// media URLs were fetched, and which perceptual digests are on disk.
type State struct {
	VisitedURLs      []string `json:"visited_urls"`
	DownloadedHashes []string `json:"downloaded_hashes"`
	PerceptualHashes []string `json:"perceptual_hashes"`
}

// Load reads a checkpoint file. A missing file is a fresh start, not an
// error; a corrupt file is an error so a typo'd path never silently wipes
// crawl history.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("%w: reading checkpoint %s: %v", utils.ErrFilesystem, path, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: parsing checkpoint %s: %v", utils.ErrParsing, path, err)
	}
	return &st, nil
}

// Save writes the checkpoint atomically: marshal to a uniquely named temp
// file in the target directory, then rename over the destination. A crash
// mid-write leaves the previous checkpoint intact.
func Save(path string, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating checkpoint dir %s: %v", utils.ErrFilesystem, dir, err)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf(".checkpoint-%s.tmp", uuid.NewString()))
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing temp checkpoint %s: %v", utils.ErrFilesystem, tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: replacing checkpoint %s: %v", utils.ErrFilesystem, path, err)
	}
	return nil
}
