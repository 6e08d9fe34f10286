// File: internal/browser/shim/embed.go
package shim

import (
	_ "embed"
	"fmt"
)

//go:embed guard_shim.js
var guardShim string

// GetGuardShim returns the content of the embedded guard_shim.js script.
func GetGuardShim() (string, error) {
	if guardShim == "" {
		return "", fmt.Errorf("embedded guard_shim.js is empty or failed to load")
	}
	return guardShim, nil
}
