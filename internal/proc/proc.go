// Package proc attaches to a running process and reads its memory.
package proc

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var (
	ErrNotRunning = errors.New("proc: process not running")
	ErrPermission = errors.New("proc: permission denied")
	ErrGone       = errors.New("proc: process gone")
	ErrUnreadable = errors.New("proc: address not readable")
)

// Process is an attached target process.
type Process struct {
	Pid int

	// mem is the /proc/<pid>/mem fallback read path. It may be nil when
	// the file could not be opened; process_vm_readv still works then.
	mem *os.File
}

// Attach opens the target process for memory reading. It does not stop the
// target; see Hold for that.
func Attach(pid int) (*Process, error) {
	if err := unix.Kill(pid, 0); err != nil {
		switch {
		case errors.Is(err, unix.ESRCH):
			return nil, fmt.Errorf("%w: pid %d", ErrNotRunning, pid)
		case errors.Is(err, unix.EPERM):
			return nil, fmt.Errorf("%w: pid %d", ErrPermission, pid)
		default:
			return nil, fmt.Errorf("proc: pid %d: %w", pid, err)
		}
	}

	p := &Process{Pid: pid}
	if f, err := os.Open(fmt.Sprintf("/proc/%d/mem", pid)); err == nil {
		p.mem = f
	}
	return p, nil
}

// Close releases the fallback read handle.
func (p *Process) Close() error {
	if p.mem != nil {
		return p.mem.Close()
	}
	return nil
}

// Alive reports whether the target still exists.
func (p *Process) Alive() bool {
	return unix.Kill(p.Pid, 0) == nil
}

// ReadAt reads len(buf) bytes from the target's address space at addr.
// Returns ErrGone when the target has exited and ErrUnreadable when the
// address range is not mapped readable.
func (p *Process) ReadAt(addr uint64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}

	n, err := unix.ProcessVMReadv(p.Pid, local, remote, 0)
	if err == nil {
		if n != len(buf) {
			return fmt.Errorf("%w: short read (%d of %d) at %#x",
				ErrUnreadable, n, len(buf), addr)
		}
		return nil
	}

	switch {
	case errors.Is(err, unix.ESRCH):
		return fmt.Errorf("%w: pid %d", ErrGone, p.Pid)
	case errors.Is(err, unix.ENOSYS), errors.Is(err, unix.EPERM):
		// Kernel without process_vm_readv, or Yama blocking it while
		// /proc/<pid>/mem was opened before the restriction applied.
		return p.readMem(addr, buf)
	case errors.Is(err, unix.EFAULT):
		return fmt.Errorf("%w: %d bytes at %#x", ErrUnreadable, len(buf), addr)
	default:
		return fmt.Errorf("proc: read %d bytes at %#x: %w", len(buf), addr, err)
	}
}

func (p *Process) readMem(addr uint64, buf []byte) error {
	if p.mem == nil {
		return fmt.Errorf("%w: %d bytes at %#x", ErrUnreadable, len(buf), addr)
	}
	if _, err := p.mem.ReadAt(buf, int64(addr)); err != nil {
		if !p.Alive() {
			return fmt.Errorf("%w: pid %d", ErrGone, p.Pid)
		}
		return fmt.Errorf("%w: %d bytes at %#x: %v", ErrUnreadable, len(buf), addr, err)
	}
	return nil
}

// Hold ptrace-attaches and stops the target until the returned release func
// runs. Linux reads do not require the hold; callers take it once per
// resolution when they want the target frozen for the whole pass rather
// than paying an attach per read.
func (p *Process) Hold() (release func(), err error) {
	// Ptrace requests must all come from the attaching thread.
	runtime.LockOSThread()
	if err := unix.PtraceAttach(p.Pid); err != nil {
		runtime.UnlockOSThread()
		if errors.Is(err, unix.ESRCH) {
			return nil, fmt.Errorf("%w: pid %d", ErrGone, p.Pid)
		}
		return nil, fmt.Errorf("%w: ptrace attach pid %d: %v", ErrPermission, p.Pid, err)
	}

	var ws unix.WaitStatus
	if _, err := unix.Wait4(p.Pid, &ws, 0, nil); err != nil {
		_ = unix.PtraceDetach(p.Pid)
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("proc: wait for stop of pid %d: %w", p.Pid, err)
	}

	return func() {
		_ = unix.PtraceDetach(p.Pid)
		runtime.UnlockOSThread()
	}, nil
}
