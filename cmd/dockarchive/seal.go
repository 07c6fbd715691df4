package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Seal every finalized open partition",
	RunE:  runSeal,
}

func init() {
	rootCmd.AddCommand(sealCmd)
}

func runSeal(cmd *cobra.Command, args []string) error {
	store, err := openStore(nil)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.SealFinalized(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sealed %d partitions\n", n)
	for _, d := range store.Dates() {
		state := "open"
		if store.IsSealed(d) {
			state = "sealed"
		}
		fmt.Fprintf(out, "  %s  %s\n", d, state)
	}
	return nil
}
