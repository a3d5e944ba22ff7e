package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/yinkev/Americano-sub010/internal/domain"
	"github.com/yinkev/Americano-sub010/internal/service"
)

// BuildCmd returns the build command
func BuildCmd() *cobra.Command {
	var lectureID string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run a graph build synchronously",
		Long:  "Run the full graph build pipeline in the foreground and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return runBuild(outputFormat, lectureID)
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	cmd.Flags().StringVar(&lectureID, "lecture", "", "Restrict the build to one lecture (default: whole corpus)")

	return cmd
}

func runBuild(outputFormat, lectureID string) error {
	ctx := context.Background()

	pool, cfg, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if !cfg.HasOpenAI() {
		return fmt.Errorf("GRAPH_OPENAI_API_KEY must be set to run a build")
	}

	pipe, err := newPipeline(ctx, cfg, pool)
	if err != nil {
		return err
	}

	input := service.BuildInput{LectureID: lectureID}
	if outputFormat != "json" {
		input.OnStage = func(stage domain.BuildStage) {
			fmt.Printf("stage: %s\n", stage)
		}
	}

	report, err := pipe.builder.Build(ctx, input)
	if err != nil {
		return fmt.Errorf("build failed at stage %s: %w", report.Stage, err)
	}

	if outputFormat == "json" {
		jsonBytes, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		printReport(report)
	}

	return nil
}

func printReport(report *domain.BuildReport) {
	fmt.Printf("Build finished in %s:\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Printf("  chunks fetched:       %d (%d failed)\n", report.ChunksFetched, report.ChunksFailed)
	fmt.Printf("  candidates extracted: %d (%d after dedup)\n", report.CandidatesExtracted, report.CandidatesAfterDedup)
	fmt.Printf("  concepts:             %d created, %d reused, %d dropped\n",
		report.ConceptsCreated, report.ConceptsReused, report.ConceptsDropped)
	fmt.Printf("  relationships:        %d found, %d stored\n", report.RelationshipsFound, report.RelationshipsStored)
	fmt.Printf("  orphans removed:      %d\n", report.OrphansRemoved)
	if report.SnapshotKey != "" {
		fmt.Printf("  snapshot:             %s\n", report.SnapshotKey)
	}
	if len(report.Failures) > 0 {
		fmt.Printf("\nContained failures (%d):\n", len(report.Failures))
		for _, f := range report.Failures {
			fmt.Printf("  [%s] %s: %s\n", f.Stage, f.Ref, f.Reason)
		}
	}
}
