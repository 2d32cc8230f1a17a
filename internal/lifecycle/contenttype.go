package lifecycle

import (
	"mime"
	"path"
	"strings"
)

// media types the listing filter must know regardless of the host's
// mime.types
var extraTypes = map[string]string{
	".heic": "image/heic",
	".mov":  "video/quicktime",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

func init() {
	for ext, typ := range extraTypes {
		_ = mime.AddExtensionType(ext, typ)
	}
}

// matchesContentType reports whether key's extension maps to a MIME type
// whose top level type is want ("image", "video", ...). A full type such as
// "image/png" must match exactly.
func matchesContentType(key, want string) bool {
	ext := strings.ToLower(path.Ext(key))
	if ext == "" {
		return false
	}
	mt := mime.TypeByExtension(ext)
	if mt == "" {
		return false
	}
	mt, _, _ = strings.Cut(mt, ";")
	mt = strings.ToLower(strings.TrimSpace(mt))
	if strings.Contains(want, "/") {
		return mt == want
	}
	top, _, _ := strings.Cut(mt, "/")
	return top == want
}
