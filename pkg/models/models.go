package models

// PageTask represents a page URL and its BFS depth, waiting to be processed.
// Created by the seed or by link discovery, consumed exactly once, never mutated.
type PageTask struct {
	URL   string
	Depth int
}

// MediaCandidate is a media URL discovered on a page, headed for the
// download pipeline. Ephemeral: it exists only between extraction and the
// candidate's terminal outcome.
type MediaCandidate struct {
	SourcePageURL string
	MediaURL      string
}

// MediaKind distinguishes the two download pipelines.
type MediaKind int

const (
	KindImage MediaKind = iota
	KindVideo
)

// String implements fmt.Stringer for logging.
func (k MediaKind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "image"
}

// DownloadResult is the append-only audit record for one candidate's
// terminal outcome. LocalPath is empty unless a file was kept on disk.
type DownloadResult struct {
	SourcePageURL string
	MediaURL      string
	LocalPath     string
	Status        Outcome
	Note          string
}
