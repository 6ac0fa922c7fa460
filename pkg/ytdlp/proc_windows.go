//go:build windows

package ytdlp

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

// terminate kills outright: Windows has no SIGTERM equivalent for console
// processes that os.Process can deliver.
func terminate(p *os.Process) error {
	return kill(p)
}

func kill(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
