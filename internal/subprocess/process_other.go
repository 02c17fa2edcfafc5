//go:build !unix

package subprocess

import (
	"os"
	"os/exec"
)

func setProcessGroup(_ *exec.Cmd) {}

// killTree kills the process. Descendants are not reached on this platform.
func killTree(p *os.Process) error {
	return p.Kill()
}
