package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/yinkev/Americano-sub010/internal/repository"
	"github.com/yinkev/Americano-sub010/internal/service"
)

// StatsCmd returns the stats command
func StatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show graph counts",
		Long:  "Show concept and relationship counts for the stored graph",
		RunE:  runStats,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, _, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	statsSvc := service.NewGraphStatsService(
		repository.NewConceptRepository(pool),
		repository.NewRelationshipRepository(pool),
	)

	stats, err := statsSvc.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to load graph stats: %w", err)
	}

	if outputFormat == "json" {
		byCategory := make([]map[string]interface{}, len(stats.ByCategory))
		for i, c := range stats.ByCategory {
			byCategory[i] = map[string]interface{}{
				"category": c.Category,
				"count":    c.Count,
			}
		}
		byType := make([]map[string]interface{}, len(stats.ByType))
		for i, t := range stats.ByType {
			byType[i] = map[string]interface{}{
				"type":  t.Type,
				"count": t.Count,
			}
		}
		output := map[string]interface{}{
			"concepts":      stats.Concepts,
			"relationships": stats.Relationships,
			"by_category":   byCategory,
			"by_type":       byType,
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("Concepts: %d\n", stats.Concepts)
		for _, c := range stats.ByCategory {
			fmt.Printf("  %s: %d\n", c.Category, c.Count)
		}
		fmt.Printf("Relationships: %d\n", stats.Relationships)
		for _, t := range stats.ByType {
			fmt.Printf("  %s: %d\n", t.Type, t.Count)
		}
	}

	return nil
}
