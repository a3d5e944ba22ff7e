package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/yinkev/Americano-sub010/internal/repository"
	"github.com/yinkev/Americano-sub010/internal/service"
)

// ExportCmd returns the export command
func ExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a graph snapshot to object storage",
		Long:  "Upload a JSON snapshot of the current graph to the configured S3 bucket",
		RunE:  runExport,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, cfg, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if !cfg.HasS3() {
		return fmt.Errorf("GRAPH_S3_ENDPOINT, GRAPH_S3_ACCESS_KEY_ID and GRAPH_S3_SECRET_ACCESS_KEY must be set to export snapshots")
	}

	s3Client, err := newS3Client(ctx, cfg)
	if err != nil {
		return err
	}

	snapshots := service.NewSnapshotService(
		repository.NewConceptRepository(pool),
		repository.NewRelationshipRepository(pool),
		s3Client,
	)

	key, err := snapshots.Export(ctx)
	if err != nil {
		return fmt.Errorf("failed to export snapshot: %w", err)
	}

	url, err := s3Client.GenerateDownloadURL(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to presign snapshot URL: %w", err)
	}

	if outputFormat == "json" {
		jsonBytes, _ := json.MarshalIndent(map[string]interface{}{
			"key": key,
			"url": url,
		}, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("Snapshot uploaded: %s\n", key)
		fmt.Printf("Download (valid 1h): %s\n", url)
	}

	return nil
}
