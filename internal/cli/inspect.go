package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"clinrag/internal/adapter/artifact"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect [artifact]",
	Short: "Show artifact metadata",
	Long: `Open an artifact read-only, validate its version, counts, and dimensions,
and print its metadata. No encoder is constructed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output as JSON")
}

type inspectResult struct {
	Path            string    `json:"path"`
	ArtifactVersion int       `json:"artifact_version"`
	CreatedAt       time.Time `json:"created_at"`
	Encoder         any       `json:"encoder_descriptor"`
	ProtocolCount   int       `json:"protocol_count"`
	Rows            int       `json:"rows"`
	Dim             int       `json:"dim"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := resolve(GetConfig().Artifact.Path)
	if len(args) == 1 {
		path = args[0]
	}

	a, err := artifact.Read(path)
	if err != nil {
		return err
	}

	res := inspectResult{
		Path:            path,
		ArtifactVersion: a.ArtifactVersion,
		CreatedAt:       a.CreatedAt,
		Encoder:         a.Encoder,
		ProtocolCount:   a.ProtocolCount,
		Rows:            a.Embeddings.Rows,
		Dim:             a.Embeddings.Dim,
	}

	if inspectJSON {
		output, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Artifact:   %s\n", res.Path)
	fmt.Printf("Version:    %d\n", res.ArtifactVersion)
	fmt.Printf("Created:    %s\n", res.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Encoder:    %s %s (dim %d, local only: %v)\n",
		a.Encoder.Type, a.Encoder.ModelDirOrName, a.Encoder.EmbeddingDim, a.Encoder.LocalOnly)
	fmt.Printf("Protocols:  %d\n", res.ProtocolCount)
	fmt.Printf("Matrix:     %d x %d\n", res.Rows, res.Dim)
	return nil
}
