package daemon

import (
	"github.com/gookit/goutil/dump"

	"rollerd/internal/rollrec"
)

// dumpRecords renders the rollrec store's in-memory zone table for
// rollcmd_display, the same ad hoc struct pretty-printing the teacher
// reaches for in its own debug paths (goutil/dump), rather than a
// bespoke formatter.
func dumpRecords(store *rollrec.Store) string {
	type zoneView struct {
		Name      string
		Type      string
		KSKPhase  int
		ZSKPhase  int
		Directory string
		CurErrors string
	}

	views := make([]zoneView, 0, len(store.Records))
	for _, r := range store.Records {
		views = append(views, zoneView{
			Name:      r.Name(),
			Type:      r.Type(),
			KSKPhase:  r.KSKPhase(),
			ZSKPhase:  r.ZSKPhase(),
			Directory: r.Directory(),
			CurErrors: r.GetDefault("curerrors", "0"),
		})
	}
	return dump.Format(views)
}
