package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldwave/rfplane/pkg/rf"
	"github.com/fieldwave/rfplane/pkg/txstream"
	"github.com/fieldwave/rfplane/pkg/xport"
)

func init() {
	rootCmd.AddCommand(txCmd)
	txCmd.Flags().Uint64("uid", 1, "Card UID")
	txCmd.Flags().StringP("kind", "k", "", "Transport kind (default: config transport)")
	txCmd.Flags().String("handle", "TxA1", "Transmit handle")
	txCmd.Flags().String("flow", "immediate", "Flow mode: immediate, timestamps, allow-late")
	txCmd.Flags().Bool("async", false, "Queue blocks through the worker pool instead of blocking")
	txCmd.Flags().Int("threads", 2, "Worker threads for async transfers")
	txCmd.Flags().Uint32("block-bytes", rf.TxBlockQuantum, "Transmit block size in bytes")
	txCmd.Flags().Uint64("start-ts", 0, "Timestamp of the first block for timestamped flow")
	txCmd.Flags().StringP("file", "f", "", "Sample file to replay (required)")
	txCmd.MarkFlagRequired("file")
}

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Replay a sample file through a transmit handle",
	Long: `Initialize a card, start the transmit path, and send the file as
fixed-size blocks. A short file is padded to a whole block.

In async mode a full queue is retried with backoff until the workers
drain it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, _ := cmd.Flags().GetUint64("uid")
		kindName, _ := cmd.Flags().GetString("kind")
		handleArg, _ := cmd.Flags().GetString("handle")
		flowArg, _ := cmd.Flags().GetString("flow")
		async, _ := cmd.Flags().GetBool("async")
		threads, _ := cmd.Flags().GetInt("threads")
		blockBytes, _ := cmd.Flags().GetUint32("block-bytes")
		startTS, _ := cmd.Flags().GetUint64("start-ts")
		file, _ := cmd.Flags().GetString("file")

		if kindName == "" {
			kindName = cfg.Transport
		}
		kind, err := parseKind(kindName)
		if err != nil {
			return err
		}
		handle, err := parseTxHandle(handleArg)
		if err != nil {
			return err
		}
		flow, err := parseFlowMode(flowArg)
		if err != nil {
			return err
		}
		if blockBytes == 0 || blockBytes%rf.TxBlockQuantum != 0 {
			return fmt.Errorf("block size %d is not a multiple of %d", blockBytes, rf.TxBlockQuantum)
		}

		samples, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if pad := len(samples) % int(blockBytes); pad != 0 {
			samples = append(samples, make([]byte, int(blockBytes)-pad)...)
		}

		c, err := manager.InitCard(kind, xport.UID(uid), rf.LevelFull)
		if err != nil {
			return err
		}
		defer manager.ExitCard(kind, xport.UID(uid))

		txCfg := txstream.Config{
			FlowMode:     flow,
			TransferMode: rf.TxTransferSync,
			BlockBytes:   blockBytes,
		}
		if async {
			txCfg.TransferMode = rf.TxTransferAsync
			txCfg.Threads = threads
		}
		if err := c.Tx.Initialize(txCfg); err != nil {
			return err
		}
		if err := c.Tx.Start(handle); err != nil {
			return err
		}
		stopped := false
		defer func() {
			if !stopped {
				c.Tx.Stop(handle)
			}
		}()

		ts := rf.Timestamp(startTS)
		blocks := 0
		late := 0
		for off := 0; off < len(samples); off += int(blockBytes) {
			block := &xport.TxBlock{
				Timestamp: ts,
				Data:      samples[off : off+int(blockBytes)],
			}
			err := c.Tx.Transmit(handle, block, nil)
			for rf.Retryable(err) {
				time.Sleep(5 * time.Millisecond)
				err = c.Tx.Transmit(handle, block, nil)
			}
			switch {
			case errors.Is(err, rf.ErrLateTimestamp):
				late++
			case err != nil:
				return err
			}
			blocks++
			ts += rf.Timestamp(blockBytes / 4)
		}

		stopped = true
		if err := c.Tx.Stop(handle); err != nil {
			return err
		}
		s := c.Tx.Stats()
		fmt.Fprintf(os.Stderr, "sent=%d late=%d underruns=%d\n", s.Sent, uint64(late), s.Underruns)
		return blockStatus(blocks, late)
	},
}

// blockStatus folds the replay outcome into the command result.
func blockStatus(blocks, late int) error {
	if late == blocks && blocks > 0 {
		return fmt.Errorf("all %d blocks missed their timestamps: %w", blocks, rf.ErrLateTimestamp)
	}
	return nil
}
