// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package compress

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// OutputExt is the extension of generated outputs.
const OutputExt = ".m4a"

// ResolveRealPath maps a plain path or file:// URI onto an absolute
// filesystem path. Other schemes resolve to nothing.
func ResolveRealPath(uri string) (string, bool) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", false
	}

	path := uri
	if strings.Contains(uri, "://") {
		u, err := url.Parse(uri)
		if err != nil || !strings.EqualFold(u.Scheme, "file") {
			return "", false
		}
		if u.Host != "" && u.Host != "localhost" {
			return "", false
		}
		path = u.Path
		if path == "" {
			return "", false
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	return abs, true
}

// FileURI returns the file:// form of an absolute path.
func FileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// GenerateCachePath returns a fresh path under dir with the given extension.
func GenerateCachePath(dir, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(dir, uuid.NewString()+ext)
}
