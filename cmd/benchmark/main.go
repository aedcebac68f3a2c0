package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"clinrag/config"
	"clinrag/internal/adapter/embedding"
	"clinrag/internal/usecase"
)

func main() {
	rootDir := flag.String("dir", ".", "Project directory holding clinrag.yaml")
	artifactPath := flag.String("artifact", "", "Artifact path (default from config)")
	query := flag.String("q", "", "Query to test")
	topK := flag.Int("k", 5, "Number of results")
	runs := flag.Int("n", 100, "Repetitions for latency measurement")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -q \"pregnant woman high blood pressure low platelets\"")
		fmt.Println("\nReports:")
		fmt.Println("  1. Artifact and encoder metadata")
		fmt.Println("  2. Cosine similarity of the top matches")
		fmt.Println("  3. Query latency over repeated runs")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*rootDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	path := config.ResolvePath(*rootDir, cfg.Artifact.Path)
	if *artifactPath != "" {
		path = *artifactPath
	}

	ctx := context.Background()
	loadStart := time.Now()
	// no query cache, so every run pays for encoding
	p, err := usecase.FromArtifact(ctx, path, embedding.NewFactory(cfg.Encoder), usecase.PipelineOptions{
		EncodeTimeout: cfg.Encoder.Timeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading artifact: %v\n", err)
		os.Exit(1)
	}
	loadTime := time.Since(loadStart)

	desc := p.Descriptor()
	fmt.Println("RETRIEVAL BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Protocols:  %d\n", p.Size())
	fmt.Printf("Encoder:    %s (%s)\n", desc.ModelDirOrName, desc.Type)
	fmt.Printf("Dimension:  %d\n", desc.EmbeddingDim)
	fmt.Printf("Load time:  %s\n", loadTime.Round(time.Microsecond))
	fmt.Println()

	fmt.Printf("Query: \"%s\"\n", *query)
	fmt.Println(strings.Repeat("-", 70))

	results, err := p.Retrieve(ctx, *query, *topK)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
		os.Exit(1)
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return
	}

	fmt.Printf("Top %d matches:\n\n", len(results))

	totalScore := 0.0
	for i, r := range results {
		preview := []rune(r.Text)
		if len(preview) > 150 {
			preview = append(preview[:150], []rune("...")...)
		}

		totalScore += r.Score

		rating := "LOW"
		if r.Score > 0.7 {
			rating = "HIGH"
		} else if r.Score > 0.5 {
			rating = "GOOD"
		} else if r.Score > 0.3 {
			rating = "OK"
		}

		fmt.Printf("%d. [%s %.3f] %s %v\n", i+1, rating, r.Score, r.Title, r.ICDCodes)
		fmt.Printf("   %s\n\n", string(preview))
	}

	latencies := make([]time.Duration, 0, *runs)
	for i := 0; i < *runs; i++ {
		start := time.Now()
		if _, err := p.Retrieve(ctx, *query, *topK); err != nil {
			fmt.Fprintf(os.Stderr, "Search error on run %d: %v\n", i, err)
			os.Exit(1)
		}
		latencies = append(latencies, time.Since(start))
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	avgScore := totalScore / float64(len(results))
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average similarity: %.3f\n", avgScore)
	fmt.Printf("  Top-1 similarity:   %.3f\n", results[0].Score)
	if len(latencies) > 0 {
		fmt.Printf("LATENCY (%d runs):\n", len(latencies))
		fmt.Printf("  p50: %s\n", percentile(latencies, 0.50))
		fmt.Printf("  p95: %s\n", percentile(latencies, 0.95))
		fmt.Printf("  max: %s\n", latencies[len(latencies)-1])
	}

	if avgScore > 0.5 {
		fmt.Println("  Status: GOOD - retrieval is confident")
	} else if avgScore > 0.3 {
		fmt.Println("  Status: OK - results are somewhat related")
	} else {
		fmt.Println("  Status: POOR - consider a stronger encoder or a cleaner corpus")
	}
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx].Round(time.Microsecond)
}
