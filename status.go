package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dropwired/dropwired/internal/syncstore"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "status",
		Short:       "Show transfers currently tracked by the sync store",
		Long:        "Open the sync store and list every transfer with a live sync row: its peer, direction, and local/remote state.",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runStatus,
	}
}

// transferStatus is the JSON/text shape of one row in `status`'s output.
type transferStatus struct {
	TransferID  string `json:"transfer_id"`
	PeerIP      string `json:"peer_ip"`
	Direction   string `json:"direction"`
	LocalState  string `json:"local_state"`
	RemoteState string `json:"remote_state"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger(nil)

	cfg, err := resolveConfig(logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := syncstore.NewStore(ctx, cfg.Storage.Path, logger)
	if err != nil {
		return fmt.Errorf("opening sync store: %w", err)
	}
	defer store.Close()

	rows, err := store.ListTransfers(ctx)
	if err != nil {
		return fmt.Errorf("listing transfers: %w", err)
	}

	statuses := make([]transferStatus, len(rows))
	for i, r := range rows {
		statuses[i] = transferStatus{
			TransferID:  r.TransferID,
			PeerIP:      r.PeerIP,
			Direction:   r.Direction.String(),
			LocalState:  r.LocalState.String(),
			RemoteState: r.RemoteState.String(),
		}
	}

	if flagJSON {
		return printStatusJSON(statuses)
	}

	printStatusText(statuses)

	return nil
}

func printStatusJSON(statuses []transferStatus) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(statuses); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printStatusText(statuses []transferStatus) {
	if len(statuses) == 0 {
		fmt.Println("No transfers tracked.")
		return
	}

	fmt.Printf("%-36s  %-15s  %-9s  %-9s  %s\n", "TRANSFER ID", "PEER", "DIRECTION", "LOCAL", "REMOTE")

	for _, s := range statuses {
		fmt.Printf("%-36s  %-15s  %-9s  %-9s  %s\n", s.TransferID, s.PeerIP, s.Direction, s.LocalState, s.RemoteState)
	}
}
