package engine

import (
	"fmt"

	"rollerd/internal/rollrec"
)

// NewKSKDispatcher builds the 8-phase KSK state machine of §4.G.
func NewKSKDispatcher() *Dispatcher {
	return &Dispatcher{
		Class:    "ksk",
		GetPhase: (*rollrec.Record).KSKPhase,
		SetPhase: (*rollrec.Record).SetKSKPhase,
		Phases: map[int]Transition{
			0: {Description: "not rolling", Action: kskPhase0},
			1: {Description: "wait for cache data to expire", Action: kskPhase1},
			2: {Description: "publish new KSK", Action: kskPhase2},
			3: {Description: "wait for old DNSKEY RRset to expire", Action: kskPhase3},
			4: {Description: "transfer keyset to parent", Action: kskPhase4},
			5: {Description: "wait for parent DS publication", Action: kskPhase5},
			6: {Description: "wait for cache data to expire", Action: kskPhase6},
			7: {Description: "roll KSKs and reload", Action: kskPhase7},
		},
	}
}

func kskPhase0(ctx *Context, rec *rollrec.Record) (int, error) {
	expired, err := Expired(ctx, rec, "ksk")
	if err != nil {
		return 0, err
	}
	if !expired {
		return 0, nil
	}
	return 1, nil
}

func kskPhase1(ctx *Context, rec *rollrec.Record) (int, error) {
	if rec.TTLExpire() {
		return 2, nil
	}
	return 1, nil
}

func kskPhase2(ctx *Context, rec *rollrec.Record) (int, error) {
	zone := keyrecZone(rec)
	ok, _, err := ctx.Signer.Sign(signRequestFor(rec, zone, "KSK phase 2"))
	if err != nil {
		return 2, fmt.Errorf("signer: %w", err)
	}
	if !ok {
		return 2, fmt.Errorf("signer exited non-zero")
	}
	ctx.Reloader.Reload(rec.Directory(), rec.Name())
	ctx.markSigned(rec.Name())
	return 3, nil
}

func kskPhase3(ctx *Context, rec *rollrec.Record) (int, error) {
	if rec.TTLExpire() {
		return 4, nil
	}
	return 3, nil
}

func kskPhase4(ctx *Context, rec *rollrec.Record) (int, error) {
	if ctx.AutoDS {
		ok, err := rec.DSPub(ctx.DSProvider, ctx.ProviderKey)
		if err != nil {
			return 4, fmt.Errorf("dspub: %w", err)
		}
		if !ok {
			return 4, fmt.Errorf("dspub: provider reported failure")
		}
		ctx.Logger.Infof(rec.Name(), "transfer new keyset to the parent")
		return 5, nil
	}

	if ctx.AdminEmail != "" && ctx.AdminEmail != "nomail" && !ctx.markNotified(rec.Name()) {
		if ctx.Mailer != nil {
			subject := fmt.Sprintf("%s: KSK ready for parental transfer", rec.Name())
			if err := ctx.Mailer(ctx.AdminEmail, subject, "transfer new keyset to the parent"); err != nil {
				ctx.Logger.Errf(rec.Name(), "notify admin: %v", err)
			}
		}
		ctx.Logger.Infof(rec.Name(), "transfer new keyset to the parent")
	}
	return 5, nil
}

func kskPhase5(ctx *Context, rec *rollrec.Record) (int, error) {
	if ctx.AutoDS {
		return 6, nil
	}
	// Blocks on the operator-issued rollcmd_dspub control command,
	// which advances this phase directly; nothing to do on a scan tick.
	return 5, nil
}

func kskPhase6(ctx *Context, rec *rollrec.Record) (int, error) {
	if rec.TTLExpire() {
		return 7, nil
	}
	return 6, nil
}

func kskPhase7(ctx *Context, rec *rollrec.Record) (int, error) {
	zone := keyrecZone(rec)
	ok, _, err := ctx.Signer.Sign(signRequestFor(rec, zone, "KSK phase 7"))
	if err != nil {
		return 7, fmt.Errorf("signer: %w", err)
	}
	if !ok {
		return 7, fmt.Errorf("signer exited non-zero")
	}
	ctx.Reloader.Reload(rec.Directory(), rec.Name())
	ctx.markSigned(rec.Name())
	if ctx.Archiver != nil {
		ctx.Archiver.Archive(rec.Directory(), rec.Name(), rec.KeyrecPath())
	}
	rec.Rollstamp("ksk")
	rec.ClearZoneErr()
	return 0, nil
}
