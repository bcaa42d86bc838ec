// Package cmd implements the rollctl control-CLI subcommands, one per
// rollcmd_* verb of SPEC_FULL.md §6, grounded on the teacher's
// music/cmd/zone.go shape (a cobra.Command per verb that builds a
// request, sends it, and prints the response) adapted from the
// teacher's HTTP+JSON transport to the spec's raw socket protocol.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"

	"rollerd/internal/control"
)

var (
	sockPath string
	tcpAddr  string
	group    bool
)

// RootCmd is rollctl's top-level cobra command.
var RootCmd = &cobra.Command{
	Use:   "rollctl",
	Short: "Control utility for the rollerd DNSSEC key-rollover daemon",
}

func init() {
	RootCmd.PersistentFlags().StringVar(&sockPath, "socket", "/run/dnssec-tools/rollmgr.socket", "control channel unix socket path")
	RootCmd.PersistentFlags().StringVar(&tcpAddr, "tcp", "", "use the AF_INET fallback transport (host:port) instead of the unix socket")
	RootCmd.PersistentFlags().BoolVarP(&group, "group", "g", false, "run the command once per active zone (g- group prefix)")
}

func client() *control.Client {
	if tcpAddr != "" {
		return control.NewClient("tcp", tcpAddr)
	}
	return control.NewClient("unix", sockPath)
}

// send issues cmd/data and prints the response. It returns a non-nil
// error on a transport failure or a -g verb that has no group form;
// on a RETCODE other than RCOkay or RCDisplay it exits the process
// with status 1.
func send(verb, data string) error {
	isGroup := group
	if isGroup {
		if !control.GroupAllowed[verb] {
			return fmt.Errorf("%s does not support -g/--group", verb)
		}
		verb = control.GroupPrefix + verb
	}
	code, msg, err := client().Send(verb, data)
	if err != nil {
		return err
	}
	if isGroup && code == control.RCOkay {
		fmt.Println(columnize.SimpleFormat(strings.Split(msg, "\n")))
	} else {
		fmt.Println(msg)
	}
	if code != control.RCOkay && code != control.RCDisplay {
		os.Exit(1)
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return RootCmd.Execute()
}
