// Package daemon wires the expiration evaluator, phase engine, scan
// loop, control channel and PID/lock files of the other internal
// packages into the single running process described by
// SPEC_FULL.md §5: one daemon context, passed explicitly, with no
// package-level globals.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"rollerd/internal/config"
	"rollerd/internal/control"
	"rollerd/internal/dispatch"
	"rollerd/internal/dspub"
	"rollerd/internal/engine"
	"rollerd/internal/rolllog"
	"rollerd/internal/rollrec"
)

// MaxRRFErrs is MAXRRFERRS of §7: the rollrec file is allowed this many
// successive load failures before the daemon escalates.
const MaxRRFErrs = 5

const (
	DefaultPIDFile  = "/run/rollerd.pid"
	DefaultSockFile = "/run/dnssec-tools/rollmgr.socket"
	DefaultLockFile = "/run/dnssec-tools/rollrec.lock"
)

// Options carries the daemon CLI flags of §6 that aren't already part
// of the config file.
type Options struct {
	RRFile     string
	Directory  string
	PIDFile    string
	LockFile   string
	SockFile   string
	Sleep      int
	NoReload   bool
	DTConfig   string
	ZoneSigner string
	RNDC       string
	RNDCOpts   []string
	KeyArch    string
	ZSArgs     string
	AutoSign   bool
	AlwaysSign bool
	SingleRun  bool
	Foreground bool
	Method     engine.RolloverMethod
}

// Daemon is the top-level process context.
type Daemon struct {
	Config  *config.Config
	Options Options

	Logger *rolllog.Logger
	Engine *engine.Context
	Server *control.Server

	pidFile *control.PIDFile
	rrLock  *control.Lock
	store   *rollrec.Store
	rrfErrs int

	shutdownRequested bool

	mu sync.Mutex
}

// DefaultSleepSeconds is the scan loop's default period (§4.H); the
// minimum enforced period is 10s.
const DefaultSleepSeconds = 60

// New assembles a Daemon from a loaded configuration and CLI options.
func New(cfg *config.Config, opts Options, logger *rolllog.Logger) (*Daemon, error) {
	runner := dispatch.ExecRunner{}

	rndc := opts.RNDC
	if rndc == "" {
		rndc = cfg.RNDC
	}
	zonesigner := opts.ZoneSigner
	if zonesigner == "" {
		zonesigner = cfg.ZoneSigner
	}
	keyarch := opts.KeyArch
	if keyarch == "" {
		keyarch = cfg.KeyArch
	}

	eng := &engine.Context{
		Logger:      logger,
		Signer:      &dispatch.Signer{Path: zonesigner, DTConfig: opts.DTConfig, ZSArgs: opts.ZSArgs, Runner: runner},
		Reloader:    &dispatch.Reloader{RNDC: rndc, Opts: opts.RNDCOpts, NoReload: opts.NoReload || !cfg.RollLoadZone, Runner: runner},
		Archiver:    &dispatch.Archiver{Path: keyarch, DTConfig: opts.DTConfig, Runner: runner},
		Method:      opts.Method,
		AutoSign:    opts.AutoSign,
		AlwaysSign:  opts.AlwaysSign,
		AutoDS:      cfg.RollAuto,
		ProviderKey: cfg.RollProviderKey,
		AdminEmail:  cfg.AdminEmail,
		Runner:      runner,
	}

	providerName := cfg.RollProvider
	if providerName == "" {
		providerName = "dummy"
	}
	provider, ok := dspub.GetProvider(providerName)
	if !ok {
		return nil, fmt.Errorf("daemon: unknown DS publication provider %q", providerName)
	}
	eng.DSProvider = provider

	return &Daemon{Config: cfg, Options: opts, Logger: logger, Engine: eng}, nil
}

// AcquireSingleInstance takes the PID-file advisory lock, refusing to
// start a second instance (§5).
func (d *Daemon) AcquireSingleInstance() error {
	path := d.Options.PIDFile
	if path == "" {
		path = DefaultPIDFile
	}
	pf, err := control.AcquirePIDFile(path)
	if err != nil {
		return fmt.Errorf("daemon: %w", err)
	}
	d.pidFile = pf
	return nil
}

// ReleaseSingleInstance releases the PID-file lock.
func (d *Daemon) ReleaseSingleInstance() error {
	if d.pidFile == nil {
		return nil
	}
	return d.pidFile.Release()
}

// LoadStore acquires the rollrec lock and loads the rollrec file.
// Repeated failures are tolerated up to MaxRRFErrs successive scans
// before the caller should escalate (§7).
func (d *Daemon) LoadStore() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadStoreLocked()
}

// loadStoreLocked is LoadStore for callers already holding d.mu: the
// scan pass, and the control handler's own read/mutate/write cycle.
func (d *Daemon) loadStoreLocked() error {
	lockPath := d.Options.LockFile
	if lockPath == "" {
		lockPath = DefaultLockFile
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("daemon: lock dir: %w", err)
	}
	lock, err := control.AcquireLock(lockPath)
	if err != nil {
		return fmt.Errorf("daemon: acquire rollrec lock: %w", err)
	}
	d.rrLock = lock

	baseDir := d.Options.Directory
	st, err := rollrec.Load(d.Options.RRFile, baseDir)
	if err != nil {
		d.rrfErrs++
		d.Logger.Errf("", "load rollrec: %v (failure %d/%d)", err, d.rrfErrs, MaxRRFErrs)
		d.rrLock.Release()
		d.rrLock = nil
		if d.rrfErrs >= MaxRRFErrs {
			return fmt.Errorf("daemon: rollrec unreadable after %d attempts: %w", d.rrfErrs, err)
		}
		return nil
	}
	d.rrfErrs = 0
	d.store = st
	return nil
}

// CloseStore writes the rollrec back out and releases its lock.
func (d *Daemon) CloseStore() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeStoreLocked()
}

func (d *Daemon) closeStoreLocked() error {
	st := d.store
	d.store = nil
	if st == nil {
		return nil
	}
	writeErr := st.Write()
	if d.rrLock != nil {
		if err := d.rrLock.Release(); err != nil && writeErr == nil {
			writeErr = err
		}
		d.rrLock = nil
	}
	return writeErr
}
