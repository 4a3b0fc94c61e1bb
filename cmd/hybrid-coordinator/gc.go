package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/MasterofNull/hybrid-coordinator/ai/gc"
	"github.com/MasterofNull/hybrid-coordinator/ai/tunables"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Run garbage collection passes once and exit",
	Long: `Runs the age, value, dedup and orphan passes against the durable store and
the vector store. The semantic cache lives in the serving process, so its
entries are only collected by the scheduler there.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		pass, _ := cmd.Flags().GetString("pass")
		if pass != "" && !slices.Contains(gc.Passes(), pass) {
			return fmt.Errorf("unknown pass %q, want one of %v", pass, gc.Passes())
		}

		instanceProfile, err := loadProfile()
		if err != nil {
			return err
		}
		ts, _, err := tunables.Load(instanceProfile.ConfigFile)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		storeInstance, vectors, err := openStorage(ctx, instanceProfile)
		if err != nil {
			return err
		}
		defer storeInstance.Close()

		collector := gc.New(gc.Config{
			PassTimeout: time.Duration(instanceProfile.GCPassTimeout) * time.Second,
		}, storeInstance, vectors, nil, ts, nil)

		if pass != "" {
			deleted, err := collector.Run(ctx, pass)
			fmt.Fprintf(os.Stdout, "%s: %d deleted\n", pass, deleted)
			return err
		}

		results, err := collector.RunOnce(ctx)
		for _, p := range gc.Passes() {
			fmt.Fprintf(os.Stdout, "%s: %d deleted\n", p, results[p])
		}
		if err != nil {
			slog.Error("gc finished with failures", "error", err)
		}
		return err
	},
}

func init() {
	gcCmd.Flags().String("pass", "", "run a single pass (age, value, dedup, orphan)")
}
