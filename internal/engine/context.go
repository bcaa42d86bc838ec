// Package engine implements the expiration evaluator and the KSK/ZSK
// phase state machines of SPEC_FULL.md §4.F/§4.G/§4.H, plus the scan
// loop that drives every active rollrec record through them once per
// tick.
package engine

import (
	"sync"

	"rollerd/internal/dispatch"
	"rollerd/internal/dspub"
	"rollerd/internal/rolllog"
)

// RolloverMethod selects how the expiration evaluator picks the
// "starter" timestamp a key's lifetime is measured from (§4.F step 5).
type RolloverMethod int

const (
	// RMEndRoll measures from the previous rollover's completion
	// timestamp (X_rollsecs). Default.
	RMEndRoll RolloverMethod = iota
	// RMKeyGen measures from the key's own generation timestamp.
	RMKeyGen
	// RMStartRoll is acknowledged but unimplemented, per §4.F step 5.
	RMStartRoll
)

// Mailer sends the parent-transfer notification of KSK phase 4 when
// auto-DS publication is not configured. It is an optional hook: no
// mail transport is built in, and daemon.New leaves it nil, in which
// case phase 4 only logs the notification and sends no mail.
type Mailer func(adminEmail, subject, body string) error

// Context is the single explicit bag of daemon-wide state threaded
// through every expiration/phase-engine call: no package-level globals,
// per SPEC_FULL.md §9.
type Context struct {
	mu sync.Mutex

	Logger   *rolllog.Logger
	Signer   *dispatch.Signer
	Reloader *dispatch.Reloader
	Archiver *dispatch.Archiver

	Method RolloverMethod

	AutoSign   bool
	AlwaysSign bool
	AutoDS     bool
	DSProvider dspub.Provider
	ProviderKey string

	AdminEmail string
	Mailer     Mailer

	// PhaseOverrides maps a phase key (e.g. "ksk3", "zsk2") to an
	// operator-configured command list (prog-ksk3) run in place of the
	// default action.
	PhaseOverrides map[string][]string
	Runner         dispatch.Runner

	// notified tracks zones that have already received the KSK
	// phase-4 parent-transfer notification, so it is sent only once.
	notified map[string]bool

	// signed tracks, per scan tick, which zones the phase engine has
	// already signed — consulted by the alwayssign option so it never
	// signs a zone twice in the same tick.
	signed map[string]bool
}

func (c *Context) markSigned(zone string) {
	if c.signed == nil {
		c.signed = map[string]bool{}
	}
	c.signed[zone] = true
}

func (c *Context) wasSigned(zone string) bool { return c.signed[zone] }

func (c *Context) resetSigned(zone string) {
	if c.signed != nil {
		delete(c.signed, zone)
	}
}

// Lock acquires the engine's own mutex, which ScanOnce holds for the
// duration of one record's processing. The daemon-wide lock that also
// serializes control-channel commands is daemon.Daemon's mutex.
func (c *Context) Lock() { c.mu.Lock() }

// Unlock releases the lock acquired by Lock.
func (c *Context) Unlock() { c.mu.Unlock() }

func (c *Context) markNotified(zone string) bool {
	if c.notified == nil {
		c.notified = map[string]bool{}
	}
	already := c.notified[zone]
	c.notified[zone] = true
	return already
}

func (c *Context) overrideFor(key string) ([]string, bool) {
	cmd, ok := c.PhaseOverrides[key]
	return cmd, ok && len(cmd) > 0
}

// runOverride runs an operator-configured replacement command (from
// prog-{class}{phase}) instead of the phase's default action.
func (c *Context) runOverride(dir string, cmd []string) (bool, error) {
	if len(cmd) == 0 {
		return true, nil
	}
	runner := c.Runner
	if runner == nil {
		runner = dispatch.ExecRunner{}
	}
	_, err := runner.Run(dir, cmd[0], cmd[1:]...)
	return err == nil, err
}
