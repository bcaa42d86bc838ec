// Package dspub implements the parent-side DS record publisher of
// SPEC_FULL.md §4.J: a small provider registry (mirroring the teacher's
// Updater interface/registry in music/updater.go), each provider
// implementing its own publish sequence.
package dspub

import "time"

// DSKey is the minimal DS-record-relevant view of a key: the fields a
// registrar API needs to add or identify a DS record.
type DSKey struct {
	KeyTag     int
	Algorithm  int
	DigestType int
	Digest     string
}

// Provider is a parent-side DS publication backend. DSPub runs whatever
// sequence the backend needs to reconcile zone's remote DS set with
// localKeys, returning true on success.
type Provider interface {
	Name() string
	DSPub(apiKey, zone string, localKeys []DSKey) (bool, error)
}

var providers = map[string]Provider{}

// Register installs a provider under its Name(). Called from each
// provider's init(), the same pattern the teacher uses for
// music.Updaters.
func Register(p Provider) { providers[p.Name()] = p }

// GetProvider looks up a registered provider by name ("dummy",
// "gandi.net").
func GetProvider(name string) (Provider, bool) {
	p, ok := providers[name]
	return p, ok
}

// sleeper is overridden in tests to avoid real 2-second pauses.
var sleeper = time.Sleep

const interCallPause = 2 * time.Second

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
