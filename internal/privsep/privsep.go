// Package privsep re-execs the daemon binary as an unprivileged worker
// process connected to the parent over a socketpair, reproducing
// proc_exec's "-P <role> -I <instance>" re-exec protocol without relying on
// fork(2) (which Go programs cannot safely call after goroutines start).
package privsep

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Role identifies which side of the split a re-exec'd process should run
// as, the Go counterpart to enum privsep_procid.
type Role string

const (
	RoleController Role = "controller"
	RoleWorker     Role = "worker"
)

// RoleFlag and InstanceFlag are the argv flags proc_exec passes to the
// re-exec'd process: "-P <role> -I <instance>".
const (
	RoleFlag     = "-P"
	InstanceFlag = "-I"
)

// extraFileFD is the fixed descriptor number the socketpair end is mapped
// to in the child, matching PROC_PARENT_SOCK_FILENO's role (a fixed,
// well-known fd rather than one discovered at runtime).
const extraFileFD = 3

// Worker is a re-exec'd worker process and the parent's end of its
// socketpair link.
type Worker struct {
	cmd  *exec.Cmd
	Conn *os.File
}

// SpawnWorker re-execs the current binary with RoleWorker, wiring a
// unix.Socketpair between this process and the child so the two ends can
// speak message.go's framed protocol over it. instance numbers multiple
// worker processes the same way PROC_MAX_INSTANCES allows concurrent
// forwarder workers.
func SpawnWorker(instance int, extraArgs ...string) (*Worker, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("creating socketpair: %w", err)
	}
	parentEnd := os.NewFile(uintptr(fds[0]), "privsep-parent")
	childEnd := os.NewFile(uintptr(fds[1]), "privsep-child")
	defer childEnd.Close()

	self, err := os.Executable()
	if err != nil {
		parentEnd.Close()
		return nil, fmt.Errorf("resolving executable path: %w", err)
	}

	args := append([]string{RoleFlag, string(RoleWorker), InstanceFlag, fmt.Sprint(instance)}, extraArgs...)
	cmd := exec.Command(self, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{childEnd}

	if err := cmd.Start(); err != nil {
		parentEnd.Close()
		return nil, fmt.Errorf("starting worker process: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"component": "privsep",
		"pid":       cmd.Process.Pid,
		"instance":  instance,
	}).Info("spawned resolver worker")

	return &Worker{cmd: cmd, Conn: parentEnd}, nil
}

// Wait blocks until the worker process exits.
func (w *Worker) Wait() error {
	return w.cmd.Wait()
}

// Kill terminates the worker process.
func (w *Worker) Kill() error {
	if w.cmd.Process == nil {
		return nil
	}
	return w.cmd.Process.Kill()
}

// WorkerConn returns the child's end of the socketpair set up by
// SpawnWorker, conventionally inherited on extraFileFD (fd 3, the first fd
// after stdin/stdout/stderr since ExtraFiles are appended in order).
func WorkerConn() (*os.File, error) {
	fd := extraFileFD
	f := os.NewFile(uintptr(fd), "privsep-worker")
	if f == nil {
		return nil, fmt.Errorf("fd %d is not open", fd)
	}
	return f, nil
}

// DropPrivileges chroots the calling process into dir and then switches it
// to the named unprivileged user (group first, then user), in that order so
// the chroot(2) call itself does not require privileges the process has
// already shed. Matches the
// design note in pfresolved.h calling for the worker to run as
// PFRESOLVED_USER inside an empty chroot after its warm-up query.
func DropPrivileges(username, dir string) error {
	u, err := lookupUser(username)
	if err != nil {
		return fmt.Errorf("looking up user %s: %w", username, err)
	}
	if err := unix.Chroot(dir); err != nil {
		return fmt.Errorf("chroot to %s: %w", dir, err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("chdir after chroot: %w", err)
	}
	if err := unix.Setgroups([]int{u.gid}); err != nil {
		return fmt.Errorf("setgroups: %w", err)
	}
	if err := unix.Setresgid(u.gid, u.gid, u.gid); err != nil {
		return fmt.Errorf("setresgid: %w", err)
	}
	if err := unix.Setresuid(u.uid, u.uid, u.uid); err != nil {
		return fmt.Errorf("setresuid: %w", err)
	}
	return nil
}
