package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/yinkev/Americano-sub010/internal/repository"
	"github.com/yinkev/Americano-sub010/internal/service"
)

// SweepCmd returns the sweep command
func SweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove orphaned concepts",
		Long:  "Delete concepts that have no relationships in either direction",
		RunE:  runSweep,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, _, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	maintenance := service.NewMaintenanceService(repository.NewConceptRepository(pool))

	removed, err := maintenance.RemoveOrphans(ctx)
	if err != nil {
		return fmt.Errorf("failed to sweep orphans: %w", err)
	}

	if outputFormat == "json" {
		jsonBytes, _ := json.MarshalIndent(map[string]interface{}{"orphans_removed": removed}, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("Removed %d orphaned concepts\n", removed)
	}

	return nil
}
