package engine

import (
	"rollerd/internal/rolllog"
	"rollerd/internal/rollrec"
)

// ScanOnce iterates every active record in store once, dispatching each
// through the expiration evaluator and the KSK/ZSK phase engines, per
// §4.H. baseLevel is restored after any record that overrides its own
// log level via a "loglevel" field.
func ScanOnce(ctx *Context, store *rollrec.Store, baseLevel rolllog.Level) {
	ksk := NewKSKDispatcher()
	zsk := NewZSKDispatcher()

	for _, rec := range store.Active() {
		ctx.Lock()
		scanOneRecord(ctx, rec, ksk, zsk, baseLevel)
		ctx.Unlock()
	}
	ctx.Logger.SetLevel(baseLevel)
}

func scanOneRecord(ctx *Context, rec *rollrec.Record, ksk, zsk *Dispatcher, baseLevel rolllog.Level) {
	if lvl := rec.GetDefault("loglevel", ""); lvl != "" {
		if parsed, err := rolllog.ParseLevel(lvl); err == nil {
			ctx.Logger.SetLevel(parsed)
		}
	} else {
		ctx.Logger.SetLevel(baseLevel)
	}

	ctx.resetSigned(rec.Name())

	store, err := rec.Keyrec()
	if err != nil {
		ctx.Logger.Errf(rec.Name(), "keyrec: %v", err)
		rec.ZoneErr()
		return
	}
	if store == nil {
		if ctx.AutoSign {
			performInitialSigning(ctx, rec)
		}
		return
	}

	if err := ksk.Step(ctx, rec); err != nil {
		ctx.Logger.Errf(rec.Name(), "ksk: %v", err)
	}
	if err := zsk.Step(ctx, rec); err != nil {
		ctx.Logger.Errf(rec.Name(), "zsk: %v", err)
	}

	if ctx.AlwaysSign && !ctx.wasSigned(rec.Name()) {
		if err := SignRecord(ctx, rec); err != nil {
			ctx.Logger.Errf(rec.Name(), "always-sign: %v", err)
			rec.ZoneErr()
		}
	}
}

// performInitialSigning handles the zone that has never been signed: no
// keyrec file exists yet. It runs the signer's -genkeys path, publishes
// the resulting keyset to the parent if auto-DS is configured, and
// stamps both classes as freshly rolled (scenario 1 of §8).
func performInitialSigning(ctx *Context, rec *rollrec.Record) {
	ok, _, err := ctx.Signer.Sign(signRequestFor(rec, nil, "initial"))
	if err != nil || !ok {
		ctx.Logger.Errf(rec.Name(), "initial signing failed: %v", err)
		rec.ZoneErr()
		return
	}
	ctx.markSigned(rec.Name())

	if ctx.AutoDS {
		if published, derr := rec.DSPub(ctx.DSProvider, ctx.ProviderKey); derr == nil && published {
			ctx.Logger.Infof(rec.Name(), "transfer new keyset to the parent")
		}
	}

	rec.Rollstamp("ksk")
	rec.Rollstamp("zsk")
	rec.SetKSKPhase(0)
	rec.SetZSKPhase(0)
}
