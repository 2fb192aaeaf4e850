package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fieldwave/rfplane/pkg/freqhop"
	"github.com/fieldwave/rfplane/pkg/rf"
	"github.com/fieldwave/rfplane/pkg/xport"
)

func init() {
	rootCmd.AddCommand(hopCmd)
	hopCmd.PersistentFlags().Uint64("uid", 1, "Card UID")
	hopCmd.PersistentFlags().StringP("kind", "k", "", "Transport kind (default: config transport)")
	hopCmd.PersistentFlags().String("dir", "rx", "Tuning direction: rx or tx")
	hopCmd.PersistentFlags().Int("handle", 0, "Channel index within the direction")

	hopCmd.AddCommand(hopTuneCmd)
	hopCmd.AddCommand(hopRunCmd)
	hopRunCmd.Flags().String("list", "", "Comma-separated hop frequencies in Hz (required)")
	hopRunCmd.Flags().Int("initial", 0, "Index of the first hop in the list")
	hopRunCmd.Flags().Uint64("at", 0, "Apply each hop at this RF timestamp (0: immediate)")
	hopRunCmd.MarkFlagRequired("list")
	hopCmd.AddCommand(hopShowCmd)
}

var hopCmd = &cobra.Command{
	Use:   "hop",
	Short: "Tune and frequency-hop a card channel",
}

// hopContext resolves the shared flags into a live coordinator.
func hopContext(cmd *cobra.Command) (*freqhop.Coordinator, func(), error) {
	uid, _ := cmd.Flags().GetUint64("uid")
	kindName, _ := cmd.Flags().GetString("kind")
	dirName, _ := cmd.Flags().GetString("dir")
	handle, _ := cmd.Flags().GetInt("handle")

	if kindName == "" {
		kindName = cfg.Transport
	}
	kind, err := parseKind(kindName)
	if err != nil {
		return nil, nil, err
	}
	var dir freqhop.Direction
	switch strings.ToLower(dirName) {
	case "rx":
		dir = freqhop.Rx
	case "tx":
		dir = freqhop.Tx
	default:
		return nil, nil, fmt.Errorf("unknown direction %q (rx, tx)", dirName)
	}

	c, err := manager.InitCard(kind, xport.UID(uid), rf.LevelFull)
	if err != nil {
		return nil, nil, err
	}
	release := func() { manager.ExitCard(kind, xport.UID(uid)) }

	co, err := c.Hop(dir, handle)
	if err != nil {
		release()
		return nil, nil, err
	}
	return co, release, nil
}

var hopTuneCmd = &cobra.Command{
	Use:   "tune <freq-hz>",
	Short: "Retune the channel to a fixed frequency",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		freq, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid frequency %q: %w", args[0], err)
		}

		co, release, err := hopContext(cmd)
		if err != nil {
			return err
		}
		defer release()

		if err := co.SetTuneMode(rf.TuneStandard); err != nil {
			return err
		}
		if err := co.Retune(rf.Hz(freq)); err != nil {
			return err
		}
		fmt.Printf("tuned to %d Hz\n", co.Frequency())
		return nil
	},
}

var hopRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Walk a hop list once, arming and applying each entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		listArg, _ := cmd.Flags().GetString("list")
		initial, _ := cmd.Flags().GetInt("initial")
		at, _ := cmd.Flags().GetUint64("at")

		var hops []rf.Hz
		for _, part := range strings.Split(listArg, ",") {
			f, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid hop frequency %q: %w", part, err)
			}
			hops = append(hops, rf.Hz(f))
		}

		co, release, err := hopContext(cmd)
		if err != nil {
			return err
		}
		defer release()

		mode := rf.TuneHopImmediate
		if at != 0 {
			mode = rf.TuneHopOnTimestamp
		}
		if err := co.SetTuneMode(mode); err != nil {
			return err
		}
		if err := co.SetHopList(hops, initial); err != nil {
			return err
		}

		for i := range hops {
			next := (initial + i + 1) % len(hops)
			if err := co.ArmNextHop(next); err != nil {
				return err
			}
			if err := co.PerformHop(rf.Timestamp(at)); err != nil {
				return err
			}
			idx, freq, err := co.CurrentHop()
			if err != nil {
				return err
			}
			fmt.Printf("hop %d: index=%d freq=%d Hz\n", i+1, idx, freq)
		}
		return nil
	},
}

var hopShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the channel tuning state",
	RunE: func(cmd *cobra.Command, args []string) error {
		co, release, err := hopContext(cmd)
		if err != nil {
			return err
		}
		defer release()

		out := struct {
			Mode      string `json:"mode" yaml:"mode"`
			Frequency uint64 `json:"frequency_hz" yaml:"frequency_hz"`
		}{
			Mode:      co.Mode().String(),
			Frequency: uint64(co.Frequency()),
		}
		if outputFormat != "table" {
			return formatOutput(out)
		}
		fmt.Printf("mode:      %s\n", out.Mode)
		fmt.Printf("frequency: %d Hz\n", out.Frequency)
		return nil
	},
}
