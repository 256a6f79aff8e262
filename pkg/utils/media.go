package utils

import (
	"net/url"
	"path"
	"strings"
)

// ImageExtensions are the raster/vector formats the crawler considers images.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".svg":  true,
}

// VideoExtensions covers direct files and streaming manifest/segment formats.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".mov":  true,
	".mkv":  true,
	".avi":  true,
	".m3u8": true,
	".mpd":  true,
	".m4s":  true,
	".ts":   true,
}

// URLExtension returns the lowercased extension of a URL's path, ignoring
// query and fragment. Empty string when the path has none.
func URLExtension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(path.Ext(rawURL))
	}
	return strings.ToLower(path.Ext(u.Path))
}

// IsMediaURL reports whether the URL path ends in a known image or video
// extension. Media files are fetched even where robots.txt would block the
// page that references them.
func IsMediaURL(rawURL string) bool {
	ext := URLExtension(rawURL)
	return ImageExtensions[ext] || VideoExtensions[ext]
}
