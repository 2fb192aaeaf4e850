package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fieldwave/rfplane/pkg/xport"
)

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringP("kind", "k", "", "Transport kind to probe (default: config transport)")
	probeCmd.Flags().UintSlice("no-probe", nil, "Card UIDs hotplug discovery must not touch")
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Discover cards on a transport",
	Long: `Discover cards reachable over a transport.

Hotpluggable transports (custom, net) honor the no-probe set: cards
listed there are never touched during discovery, so another process can
keep using them undisturbed. The no-probe set comes from --no-probe and
the config file's no_probe list.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		kindName, _ := cmd.Flags().GetString("kind")
		if kindName == "" {
			kindName = cfg.Transport
		}
		kind, err := parseKind(kindName)
		if err != nil {
			return err
		}

		flagNoProbe, _ := cmd.Flags().GetUintSlice("no-probe")
		noProbe := make([]xport.UID, 0, len(flagNoProbe)+len(cfg.NoProbe))
		for _, u := range flagNoProbe {
			noProbe = append(noProbe, xport.UID(u))
		}
		for _, u := range cfg.NoProbe {
			noProbe = append(noProbe, xport.UID(u))
		}

		var uids []xport.UID
		if kind.Hotpluggable() {
			uids, err = manager.Hotplug(kind, noProbe)
		} else {
			uids, err = manager.Probe(kind)
		}
		if err != nil {
			return err
		}

		if outputFormat != "table" {
			type probed struct {
				UID  uint64 `json:"uid" yaml:"uid"`
				Kind string `json:"kind" yaml:"kind"`
			}
			out := make([]probed, len(uids))
			for i, uid := range uids {
				out[i] = probed{UID: uint64(uid), Kind: kind.String()}
			}
			return formatOutput(out)
		}

		if len(uids) == 0 {
			fmt.Printf("No cards found on %s.\n", kind)
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "UID\tKIND")
		for _, uid := range uids {
			fmt.Fprintf(w, "%d\t%s\n", uid, kind)
		}
		return w.Flush()
	},
}
