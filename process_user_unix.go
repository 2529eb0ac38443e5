//go:build unix

package claude

import (
	"fmt"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
)

// setProcessUser makes the CLI run as username. It requires the host process
// to be privileged enough to switch credentials.
func setProcessUser(cmd *exec.Cmd, username string) error {
	if username == "" {
		return nil
	}
	u, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("lookup CLI user %q: %w", username, err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return fmt.Errorf("CLI user %q has a non-numeric uid %q: %w", username, u.Uid, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return fmt.Errorf("CLI user %q has a non-numeric gid %q: %w", username, u.Gid, err)
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Credential = &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}
	return nil
}
