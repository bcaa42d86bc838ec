package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rollerd/internal/control"
)

// zoneVerbCmd builds a subcommand that sends verb with the given
// zone name as its DATA line, matching the one-verb-per-rollcmd_*
// shape of §6.
func zoneVerbCmd(use, short, verb string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ZONE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return send(verb, args[0])
		},
	}
}

// noArgCmd builds a subcommand that sends verb with no data.
func noArgCmd(use, short, verb string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return send(verb, "")
		},
	}
}

// dataCmd builds a subcommand that forwards its single argument
// verbatim as DATA.
func dataCmd(use, short, verb string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " VALUE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return send(verb, args[0])
		},
	}
}

func init() {
	RootCmd.AddCommand(
		statusCmd(),
		noArgCmd("display", "Dump the daemon's in-memory rollrec table", control.CmdDisplay),
		zoneVerbCmd("zonestatus", "Show one zone's rollover status", control.CmdZoneStatus),
		zoneVerbCmd("rollksk", "Force a KSK rollover for a zone", control.CmdRollKSK),
		zoneVerbCmd("rollzsk", "Force a ZSK rollover for a zone", control.CmdRollZSK),
		zoneVerbCmd("rollzone", "Return a skipped zone to rolling and clear its errors", control.CmdRollZone),
		zoneVerbCmd("skipzone", "Mark a zone skipped (inactive)", control.CmdSkipZone),
		zoneVerbCmd("dspub", "Publish a zone's DS record(s) to the parent", control.CmdDSPub),
		zoneVerbCmd("signzone", "Sign a single zone now", control.CmdSignZone),
		noArgCmd("signzones", "Sign every active zone now", control.CmdSignZones),
		zonelogCmd(),
		noArgCmd("rollall", "Force a KSK rollover for every active zone", control.CmdRollAll),
		noArgCmd("rollallksks", "Force a KSK rollover for every active zone", control.CmdRollAllKSKs),
		noArgCmd("rollallzsks", "Force a ZSK rollover for every active zone", control.CmdRollAllZSKs),
		noArgCmd("skipall", "Mark every active zone skipped", control.CmdSkipAll),
		noArgCmd("dspuball", "Publish DS records for every active zone", control.CmdDSPubAll),
		noArgCmd("shutdown", "Ask the daemon to shut down cleanly", control.CmdShutdown),
		noArgCmd("queuelist", "List the soon-queue (non-normative)", control.CmdQueueList),
		noArgCmd("queuestatus", "Show soon-queue status (non-normative)", control.CmdQueueStatus),
		noArgCmd("runqueue", "Run the soon-queue now (non-normative)", control.CmdRunQueue),
		dataCmd("sleeptime", "Change the scan loop's sleep interval (seconds)", control.CmdSleeptime),
		dataCmd("logfile", "Change the daemon's log file", control.CmdLogFile),
		dataCmd("loglevel", "Change the daemon's log level", control.CmdLogLevel),
		dataCmd("logtz", "Change the daemon's log timezone (gmt|local)", control.CmdLogTZ),
		dataCmd("logmsg", "Log an arbitrary message at info level", control.CmdLogMsg),
		dataCmd("zonegroup", "Accept a zone-group request; groups are left unchanged", control.CmdZoneGroup),
		mergeCmd(),
		splitCmd(),
		zsargsCmd(),
		phasemsgCmd(),
		rollrecCmd(),
	)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's overall status (scenario 5: boot-time/rollrec file/event method)",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			code, msg, err := client().Send(control.CmdStatus, "")
			if err != nil {
				return err
			}
			fmt.Println(msg)
			if code != control.RCOkay {
				return fmt.Errorf("rollcmd_status returned code %d", code)
			}
			return nil
		},
	}
}

func mergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mergerrfs FILE...",
		Short: "Merge one or more rollrec files into the running daemon's store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return send(control.CmdMergeRRFs, strings.Join(args, " "))
		},
	}
}

func splitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "splitrrf [FIELD]",
		Short: "Split the running rollrec store into groups by FIELD (default: directory)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			field := ""
			if len(args) == 1 {
				field = args[0]
			}
			return send(control.CmdSplitRRF, field)
		},
	}
}

func zsargsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "zsargs ZONE [ARG...]",
		Short: "Replace a zone's per-zone signer arguments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return send(control.CmdZSArgs, strings.Join(args, " "))
		},
	}
}

func zonelogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "zonelog ZONE LEVEL",
		Short: "Set a zone's per-zone log level",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return send(control.CmdZoneLog, args[0]+" "+args[1])
		},
	}
}

func phasemsgCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phasemsg ZONE",
		Short: "Log a zone's current phase and print its phase description",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return send(control.CmdPhaseMsg, args[0])
		},
	}
}

func rollrecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollrec [PATH]",
		Short: "Reload the daemon's rollrec file from PATH (or its current path)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return send(control.CmdRollRec, path)
		},
	}
}
