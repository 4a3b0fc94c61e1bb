package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MasterofNull/hybrid-coordinator/ai"
	"github.com/MasterofNull/hybrid-coordinator/ai/configloader"
	"github.com/MasterofNull/hybrid-coordinator/ai/knowledge"
)

var seedCmd = &cobra.Command{
	Use:   "seed <dir>",
	Short: "Load knowledge documents from YAML seed files into the context collections",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		instanceProfile, err := loadProfile()
		if err != nil {
			return err
		}

		// All files are validated before anything is embedded.
		loader := configloader.NewLoader(args[0], instanceProfile.Version)
		seeds, err := loader.LoadSeeds(".")
		if err != nil {
			return err
		}
		if len(seeds) == 0 {
			return fmt.Errorf("no seed files in %s", args[0])
		}

		aiConfig := ai.NewConfigFromProfile(instanceProfile)
		embedder, err := newEmbedder(aiConfig)
		if err != nil {
			return err
		}
		defer embedder.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		storeInstance, vectors, err := openStorage(ctx, instanceProfile)
		if err != nil {
			return err
		}
		defer storeInstance.Close()

		ingester := knowledge.NewIngester(embedder, vectors)
		total := 0
		for _, seed := range seeds {
			n, err := ingester.Ingest(ctx, seed.Collection, seed.Documents)
			total += n
			if err != nil {
				return fmt.Errorf("%s: %w", seed.Path, err)
			}
			fmt.Fprintf(os.Stdout, "%s: %d documents into %s\n", seed.Path, n, seed.Collection)
		}
		fmt.Fprintf(os.Stdout, "seeded %d documents from %d files\n", total, len(seeds))
		return nil
	},
}
