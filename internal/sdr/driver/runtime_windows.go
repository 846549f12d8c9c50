//go:build windows

package driver

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// FindRuntime looks for the capture tool next to the executable and in the
// working directory under bin/*/windows/x64, then falls back to PATH.
func FindRuntime(runtime string) (string, error) {
	var lookup []string

	exePath, err := os.Executable()
	if err != nil {
		return "", NewRuntimeError("failed to get executable path", err)
	}

	lookup = append(lookup, filepath.Dir(exePath))

	exePath, err = os.Getwd()
	if err != nil {
		return "", NewRuntimeError("failed to get current working directory", err)
	}

	lookup = append(lookup, exePath)

	for _, exeDir := range lookup {
		matches, err := filepath.Glob(filepath.Join(exeDir, "bin", "*", "windows", "x64", fmt.Sprintf("%s.exe", runtime)))
		if err != nil || len(matches) == 0 {
			continue // continue to next directory
		}

		binPath := matches[0]
		if _, err = os.Stat(binPath); err != nil {
			continue // continue to next directory
		}

		return binPath, nil
	}

	binPath, err := exec.LookPath(runtime)
	if err != nil {
		return "", NewRuntimeError(fmt.Sprintf("failed to find binary '%s'", runtime), err)
	}

	return binPath, nil
}
