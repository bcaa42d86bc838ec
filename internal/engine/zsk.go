package engine

import (
	"fmt"

	"rollerd/internal/rollrec"
)

// NewZSKDispatcher builds the 5-phase ZSK state machine of §4.G.
func NewZSKDispatcher() *Dispatcher {
	return &Dispatcher{
		Class:    "zsk",
		GetPhase: (*rollrec.Record).ZSKPhase,
		SetPhase: (*rollrec.Record).SetZSKPhase,
		Phases: map[int]Transition{
			0: {Description: "not rolling", Action: zskPhase0},
			1: {Description: "wait for old data to expire", Action: zskPhase1},
			2: {Description: "sign with KSK and Published ZSK", Action: zskPhase2},
			3: {Description: "wait for old data to expire", Action: zskPhase3},
			4: {Description: "swap ZSKs and sign with new Current", Action: zskPhase4},
		},
	}
}

func zskPhase0(ctx *Context, rec *rollrec.Record) (int, error) {
	expired, err := Expired(ctx, rec, "zsk")
	if err != nil {
		return 0, err
	}
	if !expired {
		return 0, nil
	}
	return 1, nil
}

func zskPhase1(ctx *Context, rec *rollrec.Record) (int, error) {
	if rec.TTLExpire() {
		return 2, nil
	}
	return 1, nil
}

func zskPhase2(ctx *Context, rec *rollrec.Record) (int, error) {
	zone := keyrecZone(rec)
	ok, _, err := ctx.Signer.Sign(signRequestFor(rec, zone, "ZSK phase 2"))
	if err != nil {
		return 2, fmt.Errorf("signer: %w", err)
	}
	if !ok {
		return 2, fmt.Errorf("signer exited non-zero")
	}
	if zone != nil && zone.ZSKPub != nil {
		zone.ZSKPub.SetTime()
	}
	ctx.Reloader.Reload(rec.Directory(), rec.Name())
	ctx.markSigned(rec.Name())
	return 3, nil
}

func zskPhase3(ctx *Context, rec *rollrec.Record) (int, error) {
	if rec.TTLExpire() {
		return 4, nil
	}
	return 3, nil
}

func zskPhase4(ctx *Context, rec *rollrec.Record) (int, error) {
	zone := keyrecZone(rec)

	ok, _, err := ctx.Signer.Sign(signRequestFor(rec, zone, "ZSK phase 4a"))
	if err != nil {
		return 4, fmt.Errorf("signer (rollzsk): %w", err)
	}
	if !ok {
		return 4, fmt.Errorf("signer (rollzsk) exited non-zero")
	}

	ok, _, err = ctx.Signer.Sign(signRequestFor(rec, zone, "ZSK phase 4b"))
	if err != nil {
		return 4, fmt.Errorf("signer (plain sign): %w", err)
	}
	if !ok {
		return 4, fmt.Errorf("signer (plain sign) exited non-zero")
	}

	ctx.Reloader.Reload(rec.Directory(), rec.Name())
	ctx.markSigned(rec.Name())
	rec.Rollstamp("zsk")
	rec.ClearZoneErr()
	return 0, nil
}
