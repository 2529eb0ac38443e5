//go:build !unix

package claude

import (
	"os/exec"
	"runtime"
)

func setProcessUser(cmd *exec.Cmd, username string) error {
	if username == "" {
		return nil
	}
	return newPreconditionError("running the CLI as another user is not supported on " + runtime.GOOS)
}
