package lsp

import (
	"net/url"
	"path/filepath"
	"strings"
)

// uriToPath maps a file:// URI (or a bare path) to an absolute OS path.
// Other schemes yield "".
func uriToPath(uri string) string {
	if uri == "" {
		return ""
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	if parsed.Scheme != "" && parsed.Scheme != "file" && len(parsed.Scheme) > 1 {
		return ""
	}
	path := parsed.Path
	if parsed.Scheme == "" || len(parsed.Scheme) == 1 {
		// bare path, or a Windows drive letter parsed as a scheme
		path = uri
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		path = unescaped
	}
	// file:///C:/x parses to /C:/x
	if len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	path = filepath.FromSlash(path)
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path
}

func pathToURI(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := url.URL{Scheme: "file", Path: slashed}
	return u.String()
}

// canonicalURI normalises equivalent spellings of a file URI so documents
// are keyed consistently. Non-file URIs are returned unchanged.
func canonicalURI(uri string) string {
	path := uriToPath(uri)
	if path == "" {
		return uri
	}
	return pathToURI(path)
}
