//go:build !windows

package driver

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
)

// FindRuntime resolves the capture tool binary. An absolute or relative path
// is used as is, a bare name is looked up in PATH.
func FindRuntime(runtime string) (string, error) {
	if filepath.Base(runtime) != runtime {
		binPath, err := exec.LookPath(runtime)
		if err != nil {
			return "", NewRuntimeError(fmt.Sprintf("`%s` is not executable", runtime), err)
		}
		return binPath, nil
	}

	binPath, err := exec.LookPath(runtime)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", NewRuntimeError(fmt.Sprintf("`%s` not found in PATH", runtime), err)
		}
		return "", NewRuntimeError("failed to locate binary", err)
	}

	return binPath, nil
}
