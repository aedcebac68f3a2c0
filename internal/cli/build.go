package cli

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clinrag/internal/adapter/corpus"
	"clinrag/internal/adapter/embedding"
	"clinrag/internal/usecase"
)

var (
	buildInput  string
	buildOutput string
	buildNoBar  bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Encode the processed corpus into an artifact",
	Long: `Encode every protocol of the processed corpus with the configured encoder
and write the protocols, embedding matrix, and encoder descriptor into one
artifact file. The previous artifact is replaced atomically.

Examples:
  clinrag build
  clinrag build --input data/processed_corpus.jsonl --output data/model.db`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringVarP(&buildInput, "input", "i", "", "processed JSONL corpus (default from config)")
	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "artifact path (default from config)")
	buildCmd.Flags().BoolVar(&buildNoBar, "no-progress", false, "disable the progress bar")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	input := resolve(cfg.Corpus.Processed)
	if buildInput != "" {
		input = buildInput
	}
	output := resolve(cfg.Artifact.Path)
	if buildOutput != "" {
		output = buildOutput
	}

	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("failed to open processed corpus (run 'clinrag prepare' first): %w", err)
	}
	records, err := corpus.ReadJSONL(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to read processed corpus: %w", err)
	}

	encoder, err := embedding.New(cfg.Encoder)
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}

	var bar *progressbar.ProgressBar
	var barMu sync.Mutex
	progress := func(done, total int) {
		if buildNoBar {
			return
		}
		barMu.Lock()
		defer barMu.Unlock()
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Encoding[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
				progressbar.OptionSetWriter(os.Stderr),
			)
		}
		_ = bar.Set(done)
	}

	start := time.Now()
	uc := usecase.NewBuildUseCase(encoder, usecase.BuildOptions{
		BatchSize: cfg.Encoder.BatchSize,
		Workers:   cfg.Encoder.Workers,
		Progress:  progress,
	})
	a, err := uc.Save(cmd.Context(), output, records)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	logger.Info("artifact written",
		zap.String("path", output),
		zap.Int("protocols", a.ProtocolCount),
		zap.Int("dim", a.Embeddings.Dim),
		zap.Duration("took", time.Since(start)),
	)
	fmt.Printf("Built %d protocols (dim %d, encoder %s/%s) -> %s\n",
		a.ProtocolCount, a.Embeddings.Dim, a.Encoder.Type, a.Encoder.ModelDirOrName, output)
	return nil
}
