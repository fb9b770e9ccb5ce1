package snapshot

import (
	"net/url"
	"path"
	"strings"
)

var knownFileTypes = map[string]bool{
	"pdf": true, "doc": true, "docx": true, "epub": true,
	"ppt": true, "pptx": true, "txt": true, "mp4": true, "zip": true,
}

// FileTypeOf derives a resource's file type from its URL extension.
// Unknown or missing extensions give "file".
func FileTypeOf(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if knownFileTypes[ext] {
		return ext
	}
	return "file"
}
