package delivery

import (
	"path/filepath"
	"strings"
)

// contentType pairs a MIME type with whether gzip is worth applying to it.
// Already-compressed formats (archives, images, pdf) are marked false.
type contentType struct {
	mime         string
	compressible bool
}

var contentTypes = map[string]contentType{
	".html": {"text/html", true},
	".css":  {"text/css", true},
	".js":   {"application/javascript", true},
	".json": {"application/json", true},
	".txt":  {"text/plain", true},
	".xml":  {"application/xml", true},
	".svg":  {"image/svg+xml", true},
	".png":  {"image/png", false},
	".jpg":  {"image/jpeg", false},
	".jpeg": {"image/jpeg", false},
	".gif":  {"image/gif", false},
	".pdf":  {"application/pdf", false},
	".zip":  {"application/zip", false},
}

// Classify maps a file path to its MIME type and compressibility by
// lowercased extension. Unknown extensions yield a generic binary type that
// is never compressed. Pure function, no I/O.
func Classify(path string) (mime string, compressible bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := contentTypes[ext]; ok {
		return ct.mime, ct.compressible
	}
	return "application/octet-stream", false
}
