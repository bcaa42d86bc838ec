package daemon

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"rollerd/internal/engine"
)

// Signal is a message carried on the daemon's internal signal channel.
// Per SPEC_FULL.md §9, SIGHUP/SIGINT are translated into channel
// messages rather than acted on directly inside a signal handler; the
// scan loop only honors them at defined safe points.
type Signal int

const (
	// SigHup requests an immediate control-channel poll.
	SigHup Signal = iota
	// SigInt requests a clean shutdown.
	SigInt
)

// WatchSignals installs handlers for SIGHUP and SIGINT and returns a
// channel carrying the translated Signal messages.
func WatchSignals() <-chan Signal {
	raw := make(chan os.Signal, 4)
	signal.Notify(raw, syscall.SIGHUP, syscall.SIGINT)
	out := make(chan Signal, 4)
	go func() {
		for s := range raw {
			switch s {
			case syscall.SIGHUP:
				out <- SigHup
			case syscall.SIGINT:
				out <- SigInt
			}
		}
	}()
	return out
}

// Run drives the default full-list scheduler of §4.H: load the
// rollrec under its lock, scan every active record through the
// expiration evaluator and phase engine, write it back, release the
// lock, poll the control channel, and sleep — repeating until a
// SigInt is received or, with Options.SingleRun, after one pass.
func (d *Daemon) Run(sigs <-chan Signal) error {
	for {
		if err := d.scanPass(); err != nil {
			return err
		}
		if d.ShutdownRequested() {
			return nil
		}
		if d.Options.SingleRun {
			return nil
		}
		if stop := d.pollAndSleep(sigs); stop {
			return nil
		}
		if d.ShutdownRequested() {
			return nil
		}
	}
}

// scanPass runs exactly one load/scan/write cycle, per §4.H. The
// coarse mutex is held across the whole sequence, so a control command
// arriving mid-scan waits for the pass to finish (§5).
func (d *Daemon) scanPass() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.loadStoreLocked(); err != nil {
		return err
	}
	if d.store != nil {
		engine.ScanOnce(d.Engine, d.store, d.Logger.Level())
	}
	return d.closeStoreLocked()
}

// pollAndSleep services the control channel for roughly Options.Sleep
// seconds (each PollOnce call is bounded by the server's own accept
// timeout), honoring SigHup as "poll now, keep sleeping" and SigInt as
// "stop". It reports true when the caller should stop the loop.
func (d *Daemon) pollAndSleep(sigs <-chan Signal) (stop bool) {
	deadline := time.Now().Add(time.Duration(d.sleepSeconds()) * time.Second)
	for time.Now().Before(deadline) {
		select {
		case sig, ok := <-sigs:
			if !ok {
				continue
			}
			switch sig {
			case SigInt:
				return true
			case SigHup:
				// fall through to an immediate poll below
			}
		default:
		}

		if d.Server != nil {
			if err := d.Server.PollOnce(); err != nil {
				d.Logger.Errf("", "control: %v", err)
			}
		} else {
			time.Sleep(250 * time.Millisecond)
		}

		if d.ShutdownRequested() {
			return true
		}
	}
	return false
}
