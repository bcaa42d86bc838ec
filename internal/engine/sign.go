package engine

import (
	"fmt"

	"rollerd/internal/dispatch"
	"rollerd/internal/keyrec"
	"rollerd/internal/rollrec"
)

// signRequestFor builds the signer invocation for rec under tag. zone
// (the keyrec's zone section, may be nil) supplies the signed-zone
// path; the unsigned zone path and keyrec path come from the rollrec
// itself.
func signRequestFor(rec *rollrec.Record, zone *keyrec.Zone, tag string) dispatch.SignRequest {
	req := dispatch.SignRequest{
		Tag:         tag,
		Dir:         rec.Directory(),
		ZoneName:    rec.Name(),
		Keyrec:      rec.KeyrecPath(),
		ZoneFile:    rec.ZoneFilePath(),
		PerZoneArgs: rec.GetDefault("zsargs", ""),
	}
	if zone != nil {
		req.SignedZone = zone.SignedZonePath()
	}
	return req
}

// SignRecord signs rec outside the state machine — the always-sign
// option and the rollcmd_signzone control verb both land here. The
// signer tag is derived from the current phase ("KSK phase N" / "ZSK
// phase N" / ""), with -signonly appended, per §4.G.
func SignRecord(ctx *Context, rec *rollrec.Record) error {
	zone := keyrecZone(rec)
	ok, out, err := ctx.Signer.Sign(signRequestFor(rec, zone, rec.PhaseArgs()))
	if err != nil {
		return fmt.Errorf("engine: sign %s: %w", rec.Name(), err)
	}
	if !ok {
		return fmt.Errorf("engine: sign %s: signer exited non-zero: %s", rec.Name(), out)
	}
	ctx.Reloader.Reload(rec.Directory(), rec.Name())
	ctx.markSigned(rec.Name())
	return nil
}

func keyrecZone(rec *rollrec.Record) *keyrec.Zone {
	store, err := rec.Keyrec()
	if err != nil || store == nil {
		return nil
	}
	return store.Zones[rec.Name()]
}
