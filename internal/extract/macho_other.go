//go:build !darwin

package extract

// Mach-O images only occur in darwin bottles; elsewhere they fall
// through to generic patching, so this is never reached.
func (p *Patcher) patchMachO(path string, contents []byte) error {
	return p.patchGeneric(path, contents)
}
