// Package extract unpacks bottle archives into the bottles tree, patching
// placeholder paths as files are written.
package extract

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"chug/internal/formula"

	"github.com/klauspost/compress/zstd"
)

var (
	// ErrInvalidArchive reports an archive whose layout does not match
	// the formula it was downloaded for.
	ErrInvalidArchive = errors.New("invalid archive")
	// ErrPathTraversal reports an entry that would escape the bottles
	// directory.
	ErrPathTraversal = errors.New("path traversal in archive")
	// ErrUnsupportedEntryType reports hardlinks, devices, fifos and
	// other entry types bottles never legitimately contain.
	ErrUnsupportedEntryType = errors.New("unsupported tar entry type")
)

// Extract decompresses archive, unpacks it under bottlesDir and patches
// every regular file through p. It returns the absolute bottle root
// (<bottlesDir>/<name>/<version>).
//
// The archive's first entry establishes the expected top-level
// directory: <formula name>/<something starting with the stable
// version>. Every later entry must live under that prefix.
func Extract(archive io.Reader, f *formula.Formula, bottlesDir string, p *Patcher) (string, error) {
	decompressed, err := decompress(archive)
	if err != nil {
		return "", err
	}
	if closer, ok := decompressed.(io.Closer); ok {
		defer closer.Close()
	}

	tr := tar.NewReader(decompressed)

	var bottlePrefix string
	type deferredDir struct {
		path string
		mode os.FileMode
	}
	var directories []deferredDir

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}

		name := filepath.ToSlash(header.Name)
		if bottlePrefix == "" {
			bottlePrefix, err = bottleRoot(name, f)
			if err != nil {
				return "", err
			}
		} else if !underPrefix(name, bottlePrefix) {
			return "", fmt.Errorf("%w: entry %q outside bottle path %q", ErrInvalidArchive, name, bottlePrefix)
		}

		target, err := sanitisePath(bottlesDir, name)
		if err != nil {
			return "", err
		}

		if header.Typeflag == tar.TypeDir {
			// Directory modes are applied in a second pass so that
			// writing children does not clobber them.
			directories = append(directories, deferredDir{path: target, mode: header.FileInfo().Mode().Perm()})
			continue
		}

		if err := extractEntry(tr, header, target, p); err != nil {
			return "", err
		}
	}

	if bottlePrefix == "" {
		return "", fmt.Errorf("%w: empty bottle", ErrInvalidArchive)
	}

	sort.Slice(directories, func(i, j int) bool { return directories[i].path > directories[j].path })
	for _, dir := range directories {
		if err := os.MkdirAll(dir.path, 0o755); err != nil {
			return "", fmt.Errorf("failed to create directory %s: %w", dir.path, err)
		}
		if err := os.Chmod(dir.path, dir.mode); err != nil {
			return "", fmt.Errorf("failed to set mode on %s: %w", dir.path, err)
		}
	}

	return filepath.Join(bottlesDir, filepath.FromSlash(bottlePrefix)), nil
}

// decompress sniffs the stream's magic and wraps it in the matching
// decompressor. Upstream ships gzip; zstd is tolerated.
func decompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to detect compression format", ErrInvalidArchive)
	}

	switch {
	case magic[0] == 0x1f && magic[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}
		return gzr, nil
	case magic[0] == 0x28 && magic[1] == 0xb5 && magic[2] == 0x2f && magic[3] == 0xfd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}
		return zr.IOReadCloser(), nil
	}
	return nil, fmt.Errorf("%w: unknown compression format (magic: %x)", ErrInvalidArchive, magic)
}

// bottleRoot validates the first entry's two leading path components
// against the formula and returns them as the required prefix. Upstream
// appends "_N" revision suffixes to the version component.
func bottleRoot(name string, f *formula.Formula) (string, error) {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: entry %q has no <name>/<version> prefix", ErrInvalidArchive, name)
	}
	if parts[0] != f.Name {
		return "", fmt.Errorf("%w: bottle path %q does not match formula name %q", ErrInvalidArchive, name, f.Name)
	}
	if !strings.HasPrefix(parts[1], f.Versions.Stable) {
		return "", fmt.Errorf("%w: bottle path %q does not match formula version %q", ErrInvalidArchive, name, f.Versions.Stable)
	}
	return parts[0] + "/" + parts[1], nil
}

func underPrefix(name, prefix string) bool {
	name = strings.Trim(name, "/")
	return name == prefix || strings.HasPrefix(name, prefix+"/")
}

// sanitisePath joins the entry path onto the base directory, stripping
// root and "." components and rejecting anything that would escape.
func sanitisePath(baseDir, name string) (string, error) {
	target := baseDir
	for _, part := range strings.Split(name, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
		default:
			target = filepath.Join(target, part)
		}
	}

	if target == baseDir {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}
	return target, nil
}

func extractEntry(tr *tar.Reader, header *tar.Header, target string, p *Patcher) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", target, err)
	}

	switch header.Typeflag {
	case tar.TypeReg:
		contents, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("failed to read %s from archive: %w", header.Name, err)
		}
		// Overwrite anything already at the path, read-only or not.
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to replace %s: %w", target, err)
		}
		if err := p.PatchAndWrite(target, contents); err != nil {
			return err
		}
		if err := os.Chmod(target, header.FileInfo().Mode().Perm()); err != nil {
			return fmt.Errorf("failed to set mode on %s: %w", target, err)
		}

	case tar.TypeSymlink:
		if header.Linkname == "" {
			return fmt.Errorf("%w: symlink %s has no target", ErrInvalidArchive, header.Name)
		}
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to replace %s: %w", target, err)
		}
		// Symlink permissions are a no-op on POSIX.
		if err := os.Symlink(header.Linkname, target); err != nil {
			return fmt.Errorf("failed to create symlink %s: %w", target, err)
		}

	default:
		return fmt.Errorf("%w: %q (type %d)", ErrUnsupportedEntryType, header.Name, header.Typeflag)
	}

	return nil
}
