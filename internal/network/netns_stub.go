//go:build !linux

package network

// InNamespace runs fn directly; namespaces other than the current one are
// unsupported here.
func InNamespace(name string, fn func() error) error {
	if name != "" {
		return ErrUnsupportedPlatform
	}
	return fn()
}
