// Package archive unpacks toolchain archives into a directory.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Format is a supported archive container.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTarGz
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTarGz:
		return "tar.gz"
	default:
		return "unknown"
	}
}

// ErrUnsupported is returned for data that is neither zip nor gzip'd tar.
var ErrUnsupported = errors.New("unsupported archive format")

// UnsafePathError reports an entry that would land outside the destination.
type UnsafePathError struct {
	Name string
}

func (e *UnsafePathError) Error() string {
	return fmt.Sprintf("archive entry %q escapes the destination directory", e.Name)
}

// Detect sniffs the container format from magic bytes.
func Detect(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, []byte("PK\x03\x04")), bytes.HasPrefix(data, []byte("PK\x05\x06")):
		return FormatZip
	case bytes.HasPrefix(data, []byte{0x1f, 0x8b}):
		return FormatTarGz
	default:
		return FormatUnknown
	}
}

// Extract unpacks data into dest, creating dest if needed.
func Extract(data []byte, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	switch Detect(data) {
	case FormatZip:
		return extractZip(data, dest)
	case FormatTarGz:
		return extractTarGz(data, dest)
	default:
		return ErrUnsupported
	}
}

// target resolves an entry name inside dest, rejecting traversal.
func target(dest, name string) (string, error) {
	clean := filepath.FromSlash(strings.TrimPrefix(name, "./"))
	clean = strings.TrimRight(clean, string(filepath.Separator))
	if clean == "" || clean == "." {
		return dest, nil
	}
	if !filepath.IsLocal(clean) {
		return "", &UnsafePathError{Name: name}
	}
	return filepath.Join(dest, clean), nil
}

func extractZip(data []byte, dest string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	// ErrInsecurePath still yields a usable reader; target rejects the entries.
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("open zip: %w", err)
	}
	for _, f := range zr.File {
		path, err := target(dest, f.Name)
		if err != nil {
			return err
		}
		mode := f.Mode()
		if mode.IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
			continue
		}
		if mode&fs.ModeSymlink != 0 {
			return &UnsafePathError{Name: f.Name}
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}
		err = writeFile(path, rc, mode.Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTarGz(data []byte, dest string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return &UnsafePathError{Name: hdr.Name}
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		path, err := target(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(path, tr, fs.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink, tar.TypeLink:
			return &UnsafePathError{Name: hdr.Name}
		default:
			// pax headers and device nodes carry nothing a toolchain needs
		}
	}
}

func writeFile(path string, r io.Reader, perm fs.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
