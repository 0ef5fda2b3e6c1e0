package executor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"chug/internal/catalog"
)

// postInstallHooks are per-package side effects keyed by bottle name.
// Most bottles have none.
var postInstallHooks = map[string]func(e *Executor, b *catalog.DownloadedBottle) error{
	"ca-certificates": installCACertificates,
}

func (e *Executor) runPostInstall(b *catalog.DownloadedBottle) error {
	hook, ok := postInstallHooks[b.Name]
	if !ok {
		return nil
	}
	return hook(e, b)
}

// installCACertificates publishes the bundled certificate store where
// linked tools expect to find it.
func installCACertificates(e *Executor, b *catalog.DownloadedBottle) error {
	src := filepath.Join(b.Path, "share", "ca-certificates", "cacert.pem")
	dst := filepath.Join(e.Paths.Etc, "ca-certificates", "cert.pem")

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to read certificate bundle: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
