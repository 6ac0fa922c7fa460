//go:build !windows

package ytdlp

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup starts the command in its own process group so that
// signals also reach helpers yt-dlp spawns, such as ffmpeg.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(p *os.Process) error {
	return signalGroup(p, unix.SIGTERM)
}

func kill(p *os.Process) error {
	return signalGroup(p, unix.SIGKILL)
}

func signalGroup(p *os.Process, sig unix.Signal) error {
	if p == nil {
		return nil
	}
	if err := unix.Kill(-p.Pid, sig); err != nil && err != unix.ESRCH {
		return p.Signal(sig)
	}
	return nil
}
