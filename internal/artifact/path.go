package artifact

import (
	"fmt"
	"path"
	"strings"
)

const schemeSeparator = "://"

// Path addresses an object as scheme://bucket/key.
type Path struct {
	Scheme string
	Bucket string
	Key    string
}

// ParsePath splits raw into its parts. When raw carries no scheme,
// defaultScheme is applied, so "bucket/a/b" and "gs://bucket/a/b" resolve to
// the same object for a store whose scheme is "gs".
func ParsePath(raw, defaultScheme string) (Path, error) {
	p := Path{Scheme: defaultScheme}
	rest := strings.TrimSpace(raw)
	if i := strings.Index(rest, schemeSeparator); i >= 0 {
		p.Scheme = rest[:i]
		rest = rest[i+len(schemeSeparator):]
	}
	rest = strings.TrimLeft(rest, "/")

	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Path{}, fmt.Errorf("path %q has no bucket", raw)
	}
	p.Bucket = bucket
	if key != "" {
		p.Key = path.Clean(key)
		if p.Key == "." {
			p.Key = ""
		}
		if strings.HasPrefix(p.Key, "../") || p.Key == ".." {
			return Path{}, fmt.Errorf("path %q escapes its bucket", raw)
		}
	}
	return p, nil
}

// String renders the path with its scheme.
func (p Path) String() string {
	s := p.Scheme + schemeSeparator + p.Bucket
	if p.Key != "" {
		s += "/" + p.Key
	}
	return s
}

// WithoutScheme renders bucket/key.
func (p Path) WithoutScheme() string {
	if p.Key == "" {
		return p.Bucket
	}
	return p.Bucket + "/" + p.Key
}

// Join returns a copy of p with elems appended to its key.
func (p Path) Join(elems ...string) Path {
	parts := append([]string{p.Key}, elems...)
	p.Key = strings.TrimPrefix(path.Join(parts...), "/")
	return p
}

// Join appends elems to a raw path string, keeping any scheme it carries.
func Join(raw string, elems ...string) string {
	return strings.TrimRight(raw, "/") + "/" + path.Join(elems...)
}

// WithScheme adds scheme to raw unless it already carries one.
func WithScheme(raw, scheme string) string {
	if strings.Contains(raw, schemeSeparator) {
		return raw
	}
	return scheme + schemeSeparator + strings.TrimLeft(raw, "/")
}

// WithoutScheme strips any scheme prefix from raw.
func WithoutScheme(raw string) string {
	if i := strings.Index(raw, schemeSeparator); i >= 0 {
		return raw[i+len(schemeSeparator):]
	}
	return raw
}
