// Package dispatch builds and runs the external signer, reloader and
// archiver commands described in SPEC_FULL.md §4.I and §6.
package dispatch

import (
	"bytes"
	"os/exec"
	"strings"
)

// Runner executes an external command in dir and returns its combined
// stdout+stderr. It is the seam tests mock to avoid running real
// external tools.
type Runner interface {
	Run(dir, name string, args ...string) (output string, err error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(dir, name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}

// SignerFlags maps a symbolic phase tag to the signer's CLI flags, per
// the §4.I table. A trailing " -signonly" suffix is recognized
// independent of the base tag and appends "-signonly".
func SignerFlags(tag string) []string {
	base := tag
	signOnly := false
	if strings.HasSuffix(base, " -signonly") {
		signOnly = true
		base = strings.TrimSuffix(base, " -signonly")
	}

	var flags []string
	switch base {
	case "KSK phase 2":
		flags = []string{"-newpubksk"}
	case "KSK phase 7":
		flags = []string{"-rollksk"}
	case "ZSK phase 2", "ZSK phase 3":
		flags = []string{"-usezskpub"}
	case "ZSK phase 4a":
		flags = []string{"-rollzsk"}
	case "ZSK phase 4b":
		flags = nil
	case "always-sign":
		flags = []string{"-usezskpub"}
	case "initial":
		flags = []string{"-genkeys"}
	default:
		flags = nil
	}
	if signOnly {
		flags = append(flags, "-signonly")
	}
	return flags
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

// Signer builds and runs the external zone-signing tool.
type Signer struct {
	Path     string
	DTConfig string
	ZSArgs   string // global -zsargs, from the daemon CLI
	Runner   Runner
}

// SignRequest describes one invocation of the signer.
type SignRequest struct {
	Tag         string
	Dir         string
	ZoneName    string
	Keyrec      string
	ZoneFile    string
	SignedZone  string
	PerZoneArgs string // per-zone zsargs, from the rollrec
}

// Sign runs the signer for req. It returns true and the captured output
// on exit 0, false otherwise.
func (s *Signer) Sign(req SignRequest) (bool, string, error) {
	args := []string{"-rollmgr", "pyrollerd", "-dtconfig", s.DTConfig}
	args = append(args, SignerFlags(req.Tag)...)
	if req.PerZoneArgs != "" {
		args = append(args, strings.Fields(req.PerZoneArgs)...)
	}
	if s.ZSArgs != "" {
		args = append(args, strings.Fields(s.ZSArgs)...)
	}
	if !hasFlag(args, "-zone") {
		args = append(args, "-zone", req.ZoneName)
	}
	if !hasFlag(args, "-krfile") {
		args = append(args, "-krfile", req.Keyrec)
	}
	if req.Tag != "initial" {
		args = append(args, req.ZoneFile, req.SignedZone)
	}

	out, err := s.Runner.Run(req.Dir, s.Path, args...)
	return err == nil, out, err
}

// Reloader runs the nameserver control tool.
type Reloader struct {
	RNDC     string
	Opts     []string
	NoReload bool
	Runner   Runner
}

// Reload reloads zonename. If NoReload is set it is a no-op success.
func (r *Reloader) Reload(dir, zonename string) (bool, string, error) {
	if r.NoReload {
		return true, "", nil
	}
	args := append(append([]string{}, r.Opts...), "reload", zonename)
	out, err := r.Runner.Run(dir, r.RNDC, args...)
	return err == nil, out, err
}

// Archiver runs the external key archiver.
type Archiver struct {
	Path     string
	DTConfig string
	Runner   Runner
}

// Archive archives obsolete keys for zonename.
func (a *Archiver) Archive(dir, zonename, keyrec string) (bool, string, error) {
	if a.Path == "" {
		return true, "", nil
	}
	args := []string{"-dtconf", a.DTConfig, "-zone", zonename, keyrec, "-verbose"}
	out, err := a.Runner.Run(dir, a.Path, args...)
	return err == nil, out, err
}
