package engine

import (
	"fmt"

	"rollerd/internal/rollrec"
)

// Transition is one phase's default action: it runs whatever work the
// phase requires and returns the phase to move to next (unchanged if
// the phase isn't done yet). Grounded on the teacher's
// FSMTransition{PreCondition, Action, PostCondition} shape
// (music/syncengine.go), collapsed here to the single Action the
// phase tables of §4.G actually need.
type Transition struct {
	Description string
	Action      func(ctx *Context, rec *rollrec.Record) (next int, err error)
}

// Dispatcher runs one class's (KSK or ZSK) phase table against a
// record, recording phase changes through advance exactly as §4.G
// describes.
type Dispatcher struct {
	Class    string
	Phases   map[int]Transition
	GetPhase func(*rollrec.Record) int
	SetPhase func(*rollrec.Record, int)
}

// Step runs the current phase's transition (or its operator override,
// if "prog-{class}{phase}" is configured) and persists any phase
// change.
func (d *Dispatcher) Step(ctx *Context, rec *rollrec.Record) error {
	phase := d.GetPhase(rec)
	t, ok := d.Phases[phase]
	if !ok {
		return fmt.Errorf("engine: %s: no transition for phase %d", d.Class, phase)
	}

	overrideKey := fmt.Sprintf("%s%d", d.Class, phase)
	if cmd, ok := ctx.overrideFor(overrideKey); ok {
		ok, err := ctx.runOverride(rec.Directory(), cmd)
		if err != nil {
			ctx.Logger.Errf(rec.Name(), "%s phase %d override command failed: %v", d.Class, phase, err)
			rec.ZoneErr()
			return nil
		}
		if ok {
			d.advance(ctx, rec, phase+1)
		}
		return nil
	}

	next, err := t.Action(ctx, rec)
	if err != nil {
		ctx.Logger.Errf(rec.Name(), "%s phase %d: %v", d.Class, phase, err)
		rec.ZoneErr()
		return nil
	}
	if next != phase {
		d.advance(ctx, rec, next)
	}
	return nil
}

func (d *Dispatcher) advance(ctx *Context, rec *rollrec.Record, next int) {
	d.SetPhase(rec, next)
	ctx.Logger.Phasef(d.Class, next)
	rec.SetTime()
}
