//go:build darwin

package extract

import (
	"bytes"
	"debug/macho"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// patchMachO rewrites install names that reference a placeholder and
// re-signs the image so the loader accepts it. Files whose install names
// need no rewrite are written verbatim.
func (p *Patcher) patchMachO(path string, contents []byte) error {
	img, err := macho.NewFile(bytes.NewReader(contents))
	if err != nil {
		return fmt.Errorf("failed to parse mach-o image: %w", err)
	}
	defer img.Close()

	type rewrite struct{ old, new string }
	var rewrites []rewrite
	for i, lib := range img.ImportedLibraries() {
		// HACK: skip the very first referenced library. The upstream
		// rewriting tool chokes on it; revisit if a better library
		// becomes available.
		if i == 0 {
			continue
		}

		switch {
		case strings.HasPrefix(lib, prefixPlaceholder):
			rewrites = append(rewrites, rewrite{lib, strings.Replace(lib, prefixPlaceholder, p.Prefix, 1)})
		case strings.HasPrefix(lib, cellarPlaceholder):
			rewrites = append(rewrites, rewrite{lib, strings.Replace(lib, cellarPlaceholder, p.Cellar, 1)})
		}
	}

	if err := os.WriteFile(path, contents, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if len(rewrites) == 0 {
		return nil
	}

	args := make([]string, 0, 2*len(rewrites)+2)
	for _, r := range rewrites {
		args = append(args, "-change", r.old, r.new)
	}
	args = append(args, path)
	if out, err := exec.Command("install_name_tool", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("install_name_tool failed: %w: %s", err, out)
	}

	// Ad-hoc re-sign; the rewrite invalidated the existing signature.
	if out, err := exec.Command("codesign", "--force", "--sign", "-", path).CombinedOutput(); err != nil {
		return fmt.Errorf("failed to codesign patched binary: %w: %s", err, out)
	}

	return nil
}
