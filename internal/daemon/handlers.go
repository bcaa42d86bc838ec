package daemon

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"rollerd/internal/control"
	"rollerd/internal/engine"
	"rollerd/internal/rolllog"
	"rollerd/internal/rollrec"
)

// bootTime is recorded once at process start for rollcmd_status.
var bootTime = time.Now()

// Handler builds the control.Handler that dispatches every rollcmd_*
// verb of SPEC_FULL.md §6 against this daemon's live state. It holds
// the same coarse lock the scan loop holds (§5): a command received
// mid-scan waits for the scan to release it.
func (d *Daemon) Handler() control.Handler {
	return func(cmd, data string) (int, string) {
		d.mu.Lock()
		defer d.mu.Unlock()

		verb, isGroup := control.SplitGroup(cmd)
		if isGroup {
			if !control.GroupAllowed[verb] {
				return control.RCBadEvent, fmt.Sprintf("verb %q is not a group command", verb)
			}
			return d.withStore(func(st *rollrec.Store) (int, string) {
				return d.groupRun(st, verb, data)
			})
		}
		return d.dispatch(verb, data)
	}
}

// withStore runs fn against a resident rollrec store. Between scan
// passes no store is loaded, so the handler performs the same
// lock/read/mutate/write cycle the scan pass does — §5 requires every
// command that touches the rollrec to hold the rollrec lock across the
// whole sequence.
func (d *Daemon) withStore(fn func(st *rollrec.Store) (int, string)) (int, string) {
	if d.store != nil {
		return fn(d.store)
	}
	if err := d.loadStoreLocked(); err != nil || d.store == nil {
		return control.RCRRFOpen, fmt.Sprintf("cannot open rollrec file %s", d.Options.RRFile)
	}
	code, msg := fn(d.store)
	if err := d.closeStoreLocked(); err != nil {
		d.Logger.Errf("", "write rollrec: %v", err)
	}
	return code, msg
}

// groupRun applies verb once per active rollrec entry, collecting one
// pipe-delimited row per zone for the client's columnized rendering.
func (d *Daemon) groupRun(st *rollrec.Store, verb, data string) (int, string) {
	var rows []string
	for _, rec := range st.Active() {
		code, msg := d.zoneVerb(verb, rec, data)
		rows = append(rows, fmt.Sprintf("%s|%d|%s", rec.Name(), code, msg))
	}
	if len(rows) == 0 {
		return control.RCNoZones, "no active zones"
	}
	return control.RCOkay, strings.Join(rows, "\n")
}

func (d *Daemon) dispatch(verb, data string) (int, string) {
	data = strings.TrimSpace(data)

	switch verb {
	case control.CmdStatus, control.CmdGetStatus:
		return d.statusReport()
	case control.CmdDisplay:
		return d.withStore(func(st *rollrec.Store) (int, string) {
			return control.RCDisplay, dumpRecords(st)
		})
	case control.CmdRollRec:
		return d.reloadRollrec(data)
	case control.CmdShutdown:
		d.shutdownRequested = true
		return control.RCOkay, "shutting down"
	case control.CmdSleeptime:
		n, err := strconv.Atoi(data)
		if err != nil || n < 10 {
			return control.RCBadSleep, fmt.Sprintf("bad sleep time %q", data)
		}
		d.Options.Sleep = n
		return control.RCOkay, fmt.Sprintf("sleeptime set to %d", n)
	case control.CmdLogFile:
		if err := d.Logger.SetFile(data); err != nil {
			return control.RCBadFile, err.Error()
		}
		return control.RCOkay, "log file changed"
	case control.CmdLogLevel:
		lvl, err := rolllog.ParseLevel(data)
		if err != nil {
			return control.RCBadLevel, err.Error()
		}
		d.Logger.SetLevel(lvl)
		return control.RCOkay, "log level changed"
	case control.CmdLogTZ:
		if err := d.Logger.SetTimezone(rolllog.Timezone(data)); err != nil {
			return control.RCBadTZ, err.Error()
		}
		return control.RCOkay, "log timezone changed"
	case control.CmdLogMsg:
		d.Logger.Infof("", "%s", data)
		return control.RCOkay, "logged"
	case control.CmdRollAll, control.CmdRollAllKSKs:
		return d.withStore(func(st *rollrec.Store) (int, string) {
			return d.rollAll(st, "ksk")
		})
	case control.CmdRollAllZSKs:
		return d.withStore(func(st *rollrec.Store) (int, string) {
			return d.rollAll(st, "zsk")
		})
	case control.CmdSkipAll:
		return d.withStore(d.skipAll)
	case control.CmdSignZones:
		return d.withStore(d.signAll)
	case control.CmdDSPubAll:
		return d.withStore(func(st *rollrec.Store) (int, string) {
			return d.groupRun(st, control.CmdDSPub, data)
		})
	case control.CmdMergeRRFs:
		return d.mergeRRFs(data)
	case control.CmdSplitRRF:
		return d.splitRRF(data)
	case control.CmdQueueList, control.CmdQueueStatus, control.CmdRunQueue:
		// The "soon queue" scheduler variant is non-normative (§4.H); this
		// daemon runs the default full-list scheduler only.
		return control.RCOkay, "soon-queue scheduler not implemented; full-list scheduler only"
	case control.CmdZoneGroup:
		return control.RCOkay, "zone group unchanged"
	case control.CmdRollKSK, control.CmdRollZSK, control.CmdRollZone,
		control.CmdSkipZone, control.CmdDSPub, control.CmdPhaseMsg,
		control.CmdSignZone, control.CmdZoneLog, control.CmdZSArgs,
		control.CmdZoneStatus:
		if data == "" {
			return control.RCNoArgs, fmt.Sprintf("%s requires a zone name", verb)
		}
		fields := strings.Fields(data)
		zone, rest := fields[0], strings.Join(fields[1:], " ")
		return d.withStore(func(st *rollrec.Store) (int, string) {
			rec, ok := st.Get(zone)
			if !ok {
				return control.RCBadZone, fmt.Sprintf("no such zone %q", zone)
			}
			return d.zoneVerb(verb, rec, rest)
		})
	default:
		return control.RCBadEvent, fmt.Sprintf("unrecognized command %q", verb)
	}
}

// zoneVerb applies a single-zone verb, enforcing the no-interleave rule
// of scenario 6: a rollcmd_rollzsk while kskphase != 0 (or vice versa)
// is refused rather than silently accepted.
func (d *Daemon) zoneVerb(verb string, rec *rollrec.Record, rest string) (int, string) {
	switch verb {
	case control.CmdRollKSK:
		if rec.ZSKPhase() != 0 {
			return control.RCKSKRollInProg, "a ZSK rollover is already in progress"
		}
		if rec.KSKPhase() == 0 {
			rec.SetKSKPhase(1)
			rec.SetTime()
		}
		return control.RCOkay, "KSK rollover forced"
	case control.CmdRollZSK:
		if rec.KSKPhase() != 0 {
			return control.RCZSKRollInProg, "a KSK rollover is already in progress"
		}
		if rec.ZSKPhase() == 0 {
			rec.SetZSKPhase(1)
			rec.SetTime()
		}
		return control.RCOkay, "ZSK rollover forced"
	case control.CmdRollZone:
		if rec.IsActive() {
			return control.RCOkay, fmt.Sprintf("zone %s is already active", rec.Name())
		}
		rec.SetActive(true)
		rec.ClearZoneErr()
		return control.RCOkay, fmt.Sprintf("zone %s restored to rolling", rec.Name())
	case control.CmdSkipZone:
		rec.SetActive(false)
		return control.RCOkay, fmt.Sprintf("zone %s marked skip", rec.Name())
	case control.CmdDSPub:
		if rec.KSKPhase() != 5 {
			return control.RCBadZoneData, "zone is not waiting for parent DS publication"
		}
		rec.SetKSKPhase(6)
		rec.SetTime()
		d.Logger.Phasef("ksk", 6)
		return control.RCOkay, fmt.Sprintf("zone %s advanced past DS publication wait", rec.Name())
	case control.CmdPhaseMsg:
		d.Logger.Phasef(rec.PhaseType(), rec.Phase())
		return control.RCOkay, rec.PhaseDescription()
	case control.CmdSignZone:
		if err := engine.SignRecord(d.Engine, rec); err != nil {
			rec.ZoneErr()
			return control.RCBadZoneData, err.Error()
		}
		return control.RCOkay, fmt.Sprintf("zone %s signed", rec.Name())
	case control.CmdZoneLog:
		if rest == "" {
			return control.RCNoArgs, "zonelog requires a log level"
		}
		lvl, err := rolllog.ParseLevel(rest)
		if err != nil {
			return control.RCBadLevel, err.Error()
		}
		rec.Set("loglevel", lvl.String())
		return control.RCOkay, fmt.Sprintf("zone %s: loglevel=%s", rec.Name(), lvl)
	case control.CmdZSArgs:
		rec.Set("zsargs", rest)
		return control.RCOkay, "zsargs updated"
	case control.CmdZoneStatus:
		return control.RCOkay, d.zoneStatusLine(rec)
	default:
		return control.RCBadEvent, fmt.Sprintf("unrecognized zone command %q", verb)
	}
}

func (d *Daemon) rollAll(st *rollrec.Store, class string) (int, string) {
	forced := 0
	for _, r := range st.Active() {
		if r.KSKPhase() != 0 || r.ZSKPhase() != 0 {
			continue
		}
		if class == "ksk" {
			r.SetKSKPhase(1)
		} else {
			r.SetZSKPhase(1)
		}
		r.SetTime()
		forced++
	}
	return control.RCOkay, fmt.Sprintf("%s rollover forced for %d zones", strings.ToUpper(class), forced)
}

func (d *Daemon) skipAll(st *rollrec.Store) (int, string) {
	n := 0
	for _, r := range st.Active() {
		r.SetActive(false)
		n++
	}
	return control.RCOkay, fmt.Sprintf("%d zones marked skip", n)
}

func (d *Daemon) signAll(st *rollrec.Store) (int, string) {
	var failed []string
	for _, r := range st.Active() {
		if err := engine.SignRecord(d.Engine, r); err != nil {
			r.ZoneErr()
			failed = append(failed, r.Name())
		}
	}
	if len(failed) > 0 {
		return control.RCBadZoneData, fmt.Sprintf("signing failed for: %s", strings.Join(failed, " "))
	}
	return control.RCOkay, "all active zones signed"
}

func (d *Daemon) zoneStatusLine(rec *rollrec.Record) string {
	return fmt.Sprintf("%s: type=%s kskphase=%d zskphase=%d curerrors=%s phase=%q left=%s",
		rec.Name(), rec.Type(), rec.KSKPhase(), rec.ZSKPhase(),
		rec.GetDefault("curerrors", "0"), rec.PhaseDescription(), rec.PhaseLeft().Round(time.Second))
}

// statusReport builds the multi-line block scenario 5 requires,
// containing the literal "boot-time:", "rollrec file:" and "event
// method:" keys. The zone list is read through the same store cycle as
// every other verb, but an unreadable rollrec degrades the report
// rather than failing it.
func (d *Daemon) statusReport() (int, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "boot-time: %s\n", bootTime.Format(time.RFC1123))
	fmt.Fprintf(&b, "rollrec file: %s\n", d.Options.RRFile)
	fmt.Fprintf(&b, "event method: full-list scheduler\n")
	fmt.Fprintf(&b, "sleep time: %d\n", d.sleepSeconds())
	fmt.Fprintf(&b, "log level: %s\n", d.Logger.Level())
	fmt.Fprintf(&b, "log file: %s\n", d.Logger.File())

	code, _ := d.withStore(func(st *rollrec.Store) (int, string) {
		names := make([]string, 0, len(st.Records))
		for _, r := range st.Records {
			names = append(names, r.Name())
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "zones: %d\n", len(names))
		for _, n := range names {
			r, _ := st.Get(n)
			fmt.Fprintf(&b, "  %s\n", d.zoneStatusLine(r))
		}
		return control.RCOkay, ""
	})
	if code != control.RCOkay {
		b.WriteString("zones: rollrec unavailable\n")
	}
	return control.RCOkay, b.String()
}

func (d *Daemon) mergeRRFs(data string) (int, string) {
	paths := strings.Fields(data)
	if len(paths) == 0 {
		return control.RCNoArgs, "mergerrfs requires one or more rollrec file paths"
	}
	return d.withStore(func(st *rollrec.Store) (int, string) {
		total := 0
		for _, p := range paths {
			n, err := st.AbsorbFile(p)
			if err != nil {
				return control.RCBadRollrec, err.Error()
			}
			total += n
		}
		return control.RCOkay, fmt.Sprintf("merged %d zones from %d files", total, len(paths))
	})
}

func (d *Daemon) splitRRF(groupField string) (int, string) {
	groupField = strings.TrimSpace(groupField)
	if groupField == "" {
		groupField = "directory"
	}
	return d.withStore(func(st *rollrec.Store) (int, string) {
		groups := st.Split(groupField)
		return control.RCOkay, fmt.Sprintf("split into %d groups by %s", len(groups), groupField)
	})
}

// reloadRollrec validates path and switches the daemon's rollrec file
// to it (or re-validates the current file when path is empty); the
// next scan pass or store-touching command picks it up.
func (d *Daemon) reloadRollrec(path string) (int, string) {
	if path == "" {
		path = d.Options.RRFile
	}
	st, err := rollrec.Load(path, d.Options.Directory)
	if err != nil {
		return control.RCBadRollrec, err.Error()
	}
	d.Options.RRFile = path
	return control.RCOkay, fmt.Sprintf("rollrec file set to %s, %d zones", path, len(st.Records))
}

func (d *Daemon) sleepSeconds() int {
	s := d.Options.Sleep
	if s < 10 {
		return DefaultSleepSeconds
	}
	return s
}

// ShutdownRequested reports whether rollcmd_shutdown has been received.
func (d *Daemon) ShutdownRequested() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdownRequested
}
