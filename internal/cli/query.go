package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	queryText     string
	queryTopK     int
	queryJSON     bool
	queryArtifact string
)

var (
	scoreColor = color.New(color.FgGreen).SprintFunc()
	titleColor = color.New(color.FgCyan, color.Bold).SprintFunc()
	codeColor  = color.New(color.FgYellow).SprintFunc()
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Retrieve the protocols nearest to a query",
	Long: `Encode the query with the artifact's own encoder and list the most
similar protocols by cosine similarity. No ranking model is called.

Examples:
  clinrag query -q "shortness of breath and wheezing"
  clinrag query -q "fever in a newborn" -k 10 --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "search query (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().StringVar(&queryArtifact, "artifact", "", "artifact path (default from config)")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	p, err := loadPipeline(cmd.Context(), queryArtifact)
	if err != nil {
		return err
	}

	topK := cfg.Retrieve.TopK
	if queryTopK > 0 {
		topK = queryTopK
	}

	results, err := p.Retrieve(cmd.Context(), queryText, topK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if queryJSON {
		output, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results for: %s\n\n", len(results), queryText)
	for i, r := range results {
		fmt.Printf("--- [%d] %s %s (score: %s) ---\n",
			i+1, titleColor(r.Title), codeColor(strings.Join(r.ICDCodes, ", ")), scoreColor(fmt.Sprintf("%.4f", r.Score)))
		// Truncate long text for display
		text := []rune(r.Text)
		if len(text) > 500 {
			text = append(text[:500], []rune("...")...)
		}
		fmt.Println(string(text))
		fmt.Println()
	}

	return nil
}
