package blobstore

import "strings"

// extensionMimeTypes maps a lowercase file extension (without the dot)
// to its MIME type. Data-driven and exhaustively testable per spec
// §4.2's requirement that this helper be enumerated, not heuristic.
var extensionMimeTypes = map[string]string{
	"txt":  "text/plain",
	"md":   "text/markdown",
	"html": "text/html",
	"htm":  "text/html",
	"css":  "text/css",
	"csv":  "text/csv",
	"json": "application/json",
	"xml":  "application/xml",
	"js":   "application/javascript",
	"pdf":  "application/pdf",
	"zip":  "application/zip",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"webp": "image/webp",
	"ico":  "image/vnd.microsoft.icon",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
	"webm": "video/webm",
	"ttf":  "font/ttf",
	"otf":  "font/otf",
	"woff": "font/woff",
	"woff2": "font/woff2",
}

// binaryExtensions is the subset of known extensions treated as binary
// (stored via BlobStore) rather than as replicated text content. Every
// extension here is also an entry (or implied by absence) in
// extensionMimeTypes; text-like extensions are omitted.
var binaryExtensions = map[string]bool{
	"pdf": true, "zip": true,
	"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true, "ico": true,
	"mp3": true, "wav": true, "ogg": true,
	"mp4": true, "mov": true, "webm": true,
	"ttf": true, "otf": true, "woff": true, "woff2": true,
}

const defaultMimeType = "application/octet-stream"

// extensionOf returns the lowercase extension of filename without its
// leading dot, or "" if none.
func extensionOf(filename string) string {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 || idx == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}

// MimeTypeForFilename maps a filename to its MIME type by extension,
// falling back to application/octet-stream for unknown or missing
// extensions.
func MimeTypeForFilename(filename string) string {
	ext := extensionOf(filename)
	if mt, ok := extensionMimeTypes[ext]; ok {
		return mt
	}
	return defaultMimeType
}

// IsBinaryExtension reports whether filename's extension is known to
// be binary content, i.e. belongs in BlobStore rather than the
// replicated text document.
func IsBinaryExtension(filename string) bool {
	return binaryExtensions[extensionOf(filename)]
}
