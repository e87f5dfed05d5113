package planner

import (
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"
)

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".avif": "image/avif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".json": "application/json",
	".html": "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "text/javascript; charset=utf-8",
	".txt":  "text/plain; charset=utf-8",
}

// detectContentType resolves a content type from the extension, falling
// back to sniffing the file head.
func detectContentType(fs billy.Filesystem, p string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(p))]; ok {
		return ct
	}

	f, err := fs.Open(p)
	if err != nil {
		return "application/octet-stream"
	}
	defer func() { _ = f.Close() }()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}
