package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clinrag/internal/adapter/corpus"
)

var (
	prepareInput  string
	prepareOutput string
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Normalize a raw corpus into JSON Lines",
	Long: `Read a corpus as a JSON array, JSON Lines, a zip archive, or a directory
of such files, clean every protocol's text, and write one record per line.

Examples:
  clinrag prepare --input data/corpus.json
  clinrag prepare --input data/corpus.zip --output data/processed_corpus.jsonl`,
	RunE: runPrepare,
}

func init() {
	rootCmd.AddCommand(prepareCmd)
	prepareCmd.Flags().StringVarP(&prepareInput, "input", "i", "", "raw corpus (default from config)")
	prepareCmd.Flags().StringVarP(&prepareOutput, "output", "o", "", "processed JSONL (default from config)")
}

func runPrepare(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	input := resolve(cfg.Corpus.Input)
	if prepareInput != "" {
		input = prepareInput
	}
	output := resolve(cfg.Corpus.Processed)
	if prepareOutput != "" {
		output = prepareOutput
	}

	var opts corpus.LoadOptions
	if cfg.Corpus.ZipEntry != "" {
		opts.Includes = []string{cfg.Corpus.ZipEntry}
	}
	records, err := corpus.LoadPath(input, opts)
	if err != nil {
		return fmt.Errorf("failed to load corpus: %w", err)
	}
	logger.Info("corpus loaded", zap.String("input", input), zap.Int("protocols", len(records)))

	if err := corpus.WriteJSONL(output, records); err != nil {
		return fmt.Errorf("failed to write processed corpus: %w", err)
	}

	fmt.Printf("Prepared %d protocols -> %s\n", len(records), output)
	return nil
}
