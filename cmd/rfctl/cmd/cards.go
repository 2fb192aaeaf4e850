package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cardsCmd)
	cardsCmd.AddCommand(cardsRemoveCmd)
}

// staleAfter is how long a card may go unseen before it is flagged.
const staleAfter = 24 * time.Hour

var cardsCmd = &cobra.Command{
	Use:   "cards",
	Short: "List known cards",
	Long: `List cards recorded in the local database. Cards are recorded when
they are initialized; the entry keeps transport identity, serial and
part numbers, and the last time the card was seen.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cards, err := cardStore.ListCards()
		if err != nil {
			return err
		}

		if outputFormat != "table" {
			if len(cards) == 0 {
				fmt.Println("[]")
				return nil
			}
			return formatOutput(cards)
		}

		if len(cards) == 0 {
			fmt.Println("No cards recorded. Initialize one with 'rfctl rx' or 'rfctl tx'.")
			return nil
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "UID\tKIND\tSERIAL\tPART\tSTATUS\tLAST SEEN")
		for _, c := range cards {
			status := red("never seen")
			lastSeen := "never"
			if c.LastSeen != nil {
				lastSeen = c.LastSeen.Format(time.RFC3339)
				if time.Since(*c.LastSeen) < staleAfter {
					status = green("seen")
				} else {
					status = yellow("stale")
				}
			}
			serial := c.Serial
			if serial == "" {
				serial = "-"
			}
			part := c.Part
			if part == "" {
				part = "-"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				c.UID, c.Kind, serial, part, status, lastSeen)
		}
		return w.Flush()
	},
}

var cardsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a card record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cardStore.DeleteCard(args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed card %s\n", args[0])
		return nil
	},
}
