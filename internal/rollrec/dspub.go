package rollrec

import (
	"fmt"
	"os/exec"

	"github.com/miekg/dns"

	"rollerd/internal/dspub"
	"rollerd/internal/keyrec"
)

// DSKeys gathers the DS-record view of every key across the zone's
// zskcur, zskpub, kskcur and kskpub sets — the "local keytags" the DS
// publisher reconciles the parent's remote set against (§4.J).
func (r *Record) DSKeys() ([]dspub.DSKey, error) {
	st, err := r.Keyrec()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("rollrec: no keyrec for %s", r.Name())
	}
	zone := st.Zones[r.Name()]
	if zone == nil {
		return nil, fmt.Errorf("rollrec: no keyrec zone section for %s", r.Name())
	}

	var out []dspub.DSKey
	for _, s := range []*keyrec.Set{zone.ZSKCur, zone.ZSKPub, zone.KSKCur, zone.KSKPub} {
		if s == nil {
			continue
		}
		for _, k := range s.Keys {
			ds, err := k.ToDS(dns.SHA256)
			if err != nil {
				continue
			}
			out = append(out, dspub.DSKey{
				KeyTag:     int(ds.KeyTag),
				Algorithm:  int(ds.Algorithm),
				DigestType: int(ds.DigestType),
				Digest:     ds.Digest,
			})
		}
	}
	return out, nil
}

// DSPub reconciles the parent-side DS set for this zone through p.
func (r *Record) DSPub(p dspub.Provider, apiKey string) (bool, error) {
	keys, err := r.DSKeys()
	if err != nil {
		return false, err
	}
	return p.DSPub(apiKey, r.Name(), keys)
}

// LoadZone runs "<rndc> <opts> reload <zonename>" in the zone's
// directory.
func (r *Record) LoadZone(rndc string, opts []string) error {
	args := append(append([]string{}, opts...), "reload", r.Name())
	cmd := exec.Command(rndc, args...)
	cmd.Dir = r.directory()
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("rollrec: reload %s: %w: %s", r.Name(), err, out)
	}
	return nil
}
