package extract

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"runtime"
)

const (
	prefixPlaceholder = "@@HOMEBREW_PREFIX@@"
	cellarPlaceholder = "@@HOMEBREW_CELLAR@@"
	placeholderMark   = "@@HOMEBREW_"
)

// ErrPatchUnsupported reports a binary format chug cannot rewrite yet.
var ErrPatchUnsupported = errors.New("patching not supported")

// Patcher rewrites placeholder tokens in extracted files to the resolved
// installation paths.
type Patcher struct {
	// Prefix replaces @@HOMEBREW_PREFIX@@ (the data directory).
	Prefix string
	// Cellar replaces @@HOMEBREW_CELLAR@@ (the bottles directory).
	Cellar string
}

// PatchAndWrite writes contents to path, rewriting placeholder
// occurrences according to the detected binary format. The caller sets
// the final file mode afterwards.
func (p *Patcher) PatchAndWrite(path string, contents []byte) error {
	switch Detect(contents) {
	case MachO:
		if runtime.GOOS == "darwin" {
			if err := p.patchMachO(path, contents); err != nil {
				return fmt.Errorf("failed to patch %s: %w", path, err)
			}
			return nil
		}
	case ELF:
		if runtime.GOOS == "linux" {
			return fmt.Errorf("%w: elf patching is not yet implemented", ErrPatchUnsupported)
		}
	}

	return p.patchGeneric(path, contents)
}

// patchGeneric splices the replacement paths over every placeholder
// occurrence. Files without an occurrence are written verbatim.
func (p *Patcher) patchGeneric(path string, contents []byte) error {
	patched := p.Apply(contents)
	if err := os.WriteFile(path, patched, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Apply returns contents with every placeholder replaced. The original
// slice is returned untouched when no placeholder occurs.
func (p *Patcher) Apply(contents []byte) []byte {
	var out []byte
	last := 0
	for search := 0; ; {
		i := bytes.Index(contents[search:], []byte(placeholderMark))
		if i < 0 {
			break
		}
		i += search

		rest := contents[i:]
		switch {
		case bytes.HasPrefix(rest, []byte(cellarPlaceholder)):
			out = append(out, contents[last:i]...)
			out = append(out, p.Cellar...)
			last = i + len(cellarPlaceholder)
			search = last
		case bytes.HasPrefix(rest, []byte(prefixPlaceholder)):
			out = append(out, contents[last:i]...)
			out = append(out, p.Prefix...)
			last = i + len(prefixPlaceholder)
			search = last
		default:
			search = i + len(placeholderMark)
		}
	}

	if out == nil {
		return contents
	}
	return append(out, contents[last:]...)
}
