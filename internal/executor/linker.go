package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chug/internal/catalog"
)

// publishLinks symlinks the bottle's bin/ files into the bin directory,
// recording each published link, and points opt/<name> at the bottle
// root. An existing destination is only replaced when it is a symlink
// into the bottles tree; anything the user put there is left alone.
func (e *Executor) publishLinks(b *catalog.DownloadedBottle) error {
	srcDir := filepath.Join(b.Path, "bin")
	entries, err := os.ReadDir(srcDir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		src := filepath.Join(srcDir, entry.Name())
		dst := filepath.Join(e.Paths.Bin, entry.Name())

		if info, err := os.Lstat(dst); err == nil {
			if !e.ownsLink(info, dst) {
				continue
			}
			if err := os.Remove(dst); err != nil {
				return fmt.Errorf("failed to replace link %s: %w", dst, err)
			}
		}

		if err := os.Symlink(src, dst); err != nil {
			return err
		}
		if err := e.Store.CreateLinkedFile(dst, b.ID); err != nil {
			return err
		}
	}

	return e.publishOptLink(b)
}

// publishOptLink maintains the stable opt/<name> path pointing at the
// current version's bottle root.
func (e *Executor) publishOptLink(b *catalog.DownloadedBottle) error {
	optLink := filepath.Join(e.Paths.Opt, b.Name)
	if info, err := os.Lstat(optLink); err == nil {
		if info.Mode()&os.ModeSymlink == 0 {
			return fmt.Errorf("%s exists and is not a symlink", optLink)
		}
		if err := os.Remove(optLink); err != nil {
			return err
		}
	}
	return os.Symlink(b.Path, optLink)
}

// ownsLink reports whether dst is a symlink pointing into the bottles
// tree.
func (e *Executor) ownsLink(info os.FileInfo, dst string) bool {
	if info.Mode()&os.ModeSymlink == 0 {
		return false
	}
	target, err := os.Readlink(dst)
	if err != nil {
		return false
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(dst), target)
	}
	return strings.HasPrefix(target, e.Paths.Bottles+string(os.PathSeparator))
}

// unlinkBottle removes the bottle's recorded symlinks. A recorded path
// is only deleted from disk when it still points into this bottle's
// directory; the row is dropped either way.
func (e *Executor) unlinkBottle(b catalog.DownloadedBottle) error {
	files, err := e.Store.LinkedFiles(b.ID)
	if err != nil {
		return err
	}

	bottlePrefix := b.Path + string(os.PathSeparator)
	for _, f := range files {
		if info, err := os.Lstat(f.Path); err == nil && info.Mode()&os.ModeSymlink != 0 {
			if target, err := os.Readlink(f.Path); err == nil && strings.HasPrefix(target, bottlePrefix) {
				if err := os.Remove(f.Path); err != nil {
					return err
				}
			}
		}
		if err := e.Store.DeleteLinkedFile(f.ID); err != nil {
			return err
		}
	}

	optLink := filepath.Join(e.Paths.Opt, b.Name)
	if target, err := os.Readlink(optLink); err == nil && target == b.Path {
		os.Remove(optLink)
	}

	return nil
}
