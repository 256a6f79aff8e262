package download

import (
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"mediagrab/pkg/utils"
)

// ImageOutputDir buckets image downloads by source page: one directory per
// domain, subdivided by the first three path segments joined with
// underscores. Creates the directory.
func ImageOutputDir(baseDir string, pageURL *url.URL) (string, error) {
	domain := utils.SanitizePathComponent(strings.ReplaceAll(pageURL.Host, ":", "_"))

	var parts []string
	for _, p := range strings.Split(pageURL.Path, "/") {
		if p == "" {
			continue
		}
		parts = append(parts, utils.SanitizePathComponent(p))
		if len(parts) == 3 {
			break
		}
	}

	dir := filepath.Join(baseDir, domain)
	if len(parts) > 0 {
		dir = filepath.Join(dir, strings.Join(parts, "_"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating output dir %s: %v", utils.ErrFilesystem, dir, err)
	}
	return dir, nil
}

// VideoOutputDir buckets video downloads by source page: domain without the
// www prefix, plus the whole path flattened into one component. Creates the
// directory.
func VideoOutputDir(baseDir string, sourceURL *url.URL) (string, error) {
	folder := strings.TrimPrefix(sourceURL.Host, "www.")
	if p := strings.Trim(sourceURL.Path, "/"); p != "" {
		part := strings.ReplaceAll(p, "/", "_")
		if len(part) > 50 {
			part = part[:50]
		}
		folder = folder + "_" + part
	}
	folder = utils.SanitizeFilename(folder)

	dir := filepath.Join(baseDir, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating output dir %s: %v", utils.ErrFilesystem, dir, err)
	}
	return dir, nil
}

// MediaFilename derives a safe filename from the media URL's last path
// segment. A missing extension falls back to the response content type,
// then to ext. A missing or useless basename falls back to a URL-hash name.
func MediaFilename(mediaURL *url.URL, contentType, fallbackExt string) string {
	base := path.Base(mediaURL.Path)
	if base == "/" || base == "." {
		base = ""
	}
	name := utils.SanitizeFilename(base)

	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		if contentType != "" {
			if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
				ext = exts[0]
			}
		}
		if ext == "" {
			ext = fallbackExt
		}
		name += ext
	}

	if name == "" || name == "_" || name == ext {
		name = fmt.Sprintf("media_%s%s", utils.ShortURLHash(mediaURL.String(), 8), ext)
	}
	return name
}

// UniquePath returns dir/filename, appending _1, _2, ... before the
// extension until the name is free. Existing files are never overwritten.
func UniquePath(dir, filename string) string {
	full := filepath.Join(dir, filename)
	if _, err := os.Stat(full); os.IsNotExist(err) {
		return full
	}

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// ForceMP4 swaps the extension for .mp4, used when a stream manifest is
// remuxed into a container file.
func ForceMP4(filename string) string {
	ext := filepath.Ext(filename)
	if strings.EqualFold(ext, ".mp4") {
		return filename
	}
	return strings.TrimSuffix(filename, ext) + ".mp4"
}
