package v8

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"v8spy/internal/proc"
	"v8spy/internal/symbols"
)

var (
	// ErrProcessUnavailable reports a target that cannot be inspected at
	// all: it exited, or we lack the privilege to read it.
	ErrProcessUnavailable = errors.New("v8: process unavailable")

	// ErrUnsupportedTarget reports a live process that does not embed a
	// recognizable engine.
	ErrUnsupportedTarget = errors.New("v8: not a supported JavaScript runtime")
)

// Config controls a resolution run.
type Config struct {
	// Hold keeps the target stopped under ptrace while its memory is
	// read, trading a stop-the-world pause for a consistent snapshot.
	Hold bool
}

// Result is the outcome of one resolution run.
type Result struct {
	Pid     int                 `json:"pid"`
	Runtime symbols.RuntimeKind `json:"runtime"`
	Version Version             `json:"version"`
	Layout  Layout              `json:"layout"`
}

// Resolve attaches to pid, identifies the embedded engine, reads its
// version, probes every published layout symbol and derives the rest from
// the version. Facts that stay unset in the returned layout could not be
// determined for this engine build.
func Resolve(pid int, cfg Config) (*Result, error) {
	p, err := proc.Attach(pid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessUnavailable, err)
	}
	defer p.Close()

	// The symbol context walks /proc and maps the runtime images, which
	// takes its own short-lived attach. Any ptrace hold must come after.
	ctx, err := symbols.BuildContext(pid)
	if err != nil {
		if errors.Is(err, symbols.ErrNoRuntime) {
			return nil, fmt.Errorf("%w: pid %d", ErrUnsupportedTarget, pid)
		}
		return nil, fmt.Errorf("%w: %v", ErrProcessUnavailable, err)
	}
	log.WithFields(log.Fields{"pid": pid, "runtime": ctx.Kind}).Debug("v8: symbol context ready")

	if cfg.Hold {
		release, err := p.Hold()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProcessUnavailable, err)
		}
		defer release()
	}

	res := &Result{Pid: pid, Runtime: ctx.Kind}

	res.Version, err = ReadVersion(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessUnavailable, err)
	}
	log.WithFields(log.Fields{"pid": pid, "version": res.Version.String()}).Info("v8: engine version")

	if err := res.Layout.Probe(ctx, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessUnavailable, err)
	}
	res.Layout.Backfill(res.Version)

	if missing := res.Layout.Unresolved(); len(missing) > 0 {
		log.WithFields(log.Fields{"pid": pid, "count": len(missing)}).Debug("v8: facts left unresolved")
		for _, name := range missing {
			log.Debugf("v8: unresolved %s", name)
		}
	}
	return res, nil
}
