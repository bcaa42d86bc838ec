package engine

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"rollerd/internal/keyrec"
	"rollerd/internal/rollrec"
)

// Expired implements the §4.F expiration evaluator for one key class
// ("ksk" or "zsk") of rec: the nine-step decision of whether that
// class should begin a rollover this scan.
func Expired(ctx *Context, rec *rollrec.Record, class string) (bool, error) {
	other := otherClass(class)
	if phaseOf(rec, other) != 0 {
		return false, nil // never interleave the two machines
	}
	if phaseOf(rec, class) != 0 {
		return true, nil // already mid-rollover: stay in the machine
	}

	zone := keyrecZone(rec)
	if zone == nil {
		ctx.Logger.Errf(rec.Name(), "%s: no keyrec zone section", class)
		rec.ZoneErr()
		return false, nil
	}

	set := curSetFor(zone, class)
	if set == nil || len(set.Keys) == 0 {
		ctx.Logger.Errf(rec.Name(), "%s: %scur set missing or empty", class, class)
		rec.ZoneErr()
		return false, nil
	}
	minKey := set.MinLifeKey()

	starter, ok, err := starterTime(ctx, rec, minKey, class)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if starter == 0 {
		rec.Rollstamp(class)
		return false, nil
	}

	rolltime := starter + int64(minKey.Life())
	now := time.Now().Unix()
	if now > rolltime {
		ctx.Logger.Expiref(rec.Name(), "%s: expired %ds ago", class, now-rolltime)
	} else {
		ctx.Logger.Expiref(rec.Name(), "%s: expires in %ds", class, rolltime-now)
	}

	if now <= rolltime {
		maybeResign(ctx, rec, zone)
		return false, nil
	}
	return true, nil
}

// starterTime resolves the "starter" timestamp per the configured
// rollover method (§4.F step 5). ok is false when the caller should
// return "not expired" immediately without further comparison.
func starterTime(ctx *Context, rec *rollrec.Record, minKey *keyrec.Key, class string) (starter int64, ok bool, err error) {
	switch ctx.Method {
	case RMEndRoll:
		v, present := rec.Get(class + "_rollsecs")
		if !present || v == "" {
			rec.Rollstamp(class)
			return 0, false, nil
		}
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return 0, false, fmt.Errorf("engine: bad %s_rollsecs %q: %w", class, v, perr)
		}
		return n, true, nil
	case RMKeyGen:
		return minKey.GenDate().Unix(), true, nil
	case RMStartRoll:
		ctx.Logger.Errf(rec.Name(), "%s: RM_STARTROLL is not implemented", class)
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("engine: unknown rollover method %d", ctx.Method)
	}
}

func otherClass(class string) string {
	if class == "ksk" {
		return "zsk"
	}
	return "ksk"
}

func phaseOf(rec *rollrec.Record, class string) int {
	if class == "ksk" {
		return rec.KSKPhase()
	}
	return rec.ZSKPhase()
}

func curSetFor(zone *keyrec.Zone, class string) *keyrec.Set {
	if class == "ksk" {
		return zone.KSKCur
	}
	return zone.ZSKCur
}

// maybeResign re-signs the zone in place, without starting a
// rollover, when the unsigned zone file is newer than the signed one
// and auto-sign is enabled (§4.F step 8).
func maybeResign(ctx *Context, rec *rollrec.Record, zone *keyrec.Zone) {
	if !ctx.AutoSign {
		return
	}
	unsigned, err := os.Stat(rec.ZoneFilePath())
	if err != nil {
		return
	}
	if signed, err := os.Stat(zone.SignedZonePath()); err == nil && !unsigned.ModTime().After(signed.ModTime()) {
		return
	}

	ok, _, err := ctx.Signer.Sign(signRequestFor(rec, zone, "always-sign"))
	if err != nil || !ok {
		ctx.Logger.Errf(rec.Name(), "re-sign failed: %v", err)
		rec.ZoneErr()
		return
	}
	ctx.Reloader.Reload(rec.Directory(), rec.Name())
	ctx.markSigned(rec.Name())
}
