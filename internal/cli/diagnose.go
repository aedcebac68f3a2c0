package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	diagnoseSymptoms string
	diagnoseTopK     int
	diagnoseJSON     bool
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Rank likely diagnoses for a symptom description",
	Long: `Retrieve candidate protocols for the symptoms and ask the configured
ranking model for an explained short list of diagnoses with ICD-10 codes.

Examples:
  clinrag diagnose -s "pregnant, 32 weeks, headache and high blood pressure"
  clinrag diagnose -s "productive cough and fever" -k 5 --json`,
	RunE: runDiagnose,
}

func init() {
	rootCmd.AddCommand(diagnoseCmd)
	diagnoseCmd.Flags().StringVarP(&diagnoseSymptoms, "symptoms", "s", "", "symptom description (required)")
	diagnoseCmd.Flags().IntVarP(&diagnoseTopK, "top-k", "k", 0, "number of diagnoses, 1-10 (default from config)")
	diagnoseCmd.Flags().BoolVar(&diagnoseJSON, "json", false, "output as JSON")
	diagnoseCmd.MarkFlagRequired("symptoms")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	p, err := loadPipeline(cmd.Context(), "")
	if err != nil {
		return err
	}
	uc, err := newDiagnoseUseCase(p)
	if err != nil {
		return err
	}

	topK := cfg.Ranker.DefaultTopK
	if diagnoseTopK != 0 {
		topK = diagnoseTopK
	}

	diagnoses, err := uc.Diagnose(cmd.Context(), diagnoseSymptoms, topK)
	if err != nil {
		return fmt.Errorf("diagnose failed: %w", err)
	}

	if diagnoseJSON {
		output, _ := json.MarshalIndent(map[string]any{"diagnoses": diagnoses}, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(diagnoses) == 0 {
		fmt.Println("No diagnoses returned.")
		return nil
	}
	for _, d := range diagnoses {
		fmt.Printf("%d. %s [%s]\n", d.Rank, titleColor(d.Diagnosis), codeColor(d.ICD10Code))
		if d.Explanation != "" {
			fmt.Printf("   %s\n", d.Explanation)
		}
	}
	return nil
}
