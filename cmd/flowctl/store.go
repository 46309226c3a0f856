package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wolfman30/medspa-nurture/internal/flow"
)

// connect opens the flow repository named by --database-url or DATABASE_URL.
func connect(ctx context.Context, databaseURL string) (*flow.PostgresRepository, func(), error) {
	_ = godotenv.Load()
	if databaseURL == "" {
		databaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if databaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL or --database-url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return flow.NewPostgresRepository(pool), pool.Close, nil
}

func newImportCommand() *cobra.Command {
	var orgID, databaseURL string
	cmd := &cobra.Command{
		Use:   "import <flow-file>...",
		Short: "Validate flow files and store each as a new version",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs := make([]*flow.Definition, 0, len(args))
			for _, path := range args {
				def, err := loadFlow(path)
				if err != nil {
					return err
				}
				if orgID != "" {
					def.OrgID = orgID
				}
				if def.OrgID == "" {
					return fmt.Errorf("%s: org_id missing; set it in the file or pass --org", path)
				}
				defs = append(defs, def)
			}

			repo, closeFn, err := connect(cmd.Context(), databaseURL)
			if err != nil {
				return err
			}
			defer closeFn()
			return importFlows(cmd, repo, defs)
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "org id, overriding the files")
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "postgres url (defaults to DATABASE_URL)")
	return cmd
}

func importFlows(cmd *cobra.Command, repo flow.Repository, defs []*flow.Definition) error {
	for _, def := range defs {
		saved, err := repo.Save(cmd.Context(), def)
		if err != nil {
			return fmt.Errorf("import %s: %w", def.ID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %s/%s version %d\n", saved.OrgID, saved.ID, saved.Version)
	}
	return nil
}

func newExportCommand() *cobra.Command {
	var orgID, databaseURL string
	var version int
	cmd := &cobra.Command{
		Use:   "export <flow-id>",
		Short: "Print a stored flow as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" {
				return fmt.Errorf("--org is required")
			}
			repo, closeFn, err := connect(cmd.Context(), databaseURL)
			if err != nil {
				return err
			}
			defer closeFn()
			return exportFlow(cmd, repo, orgID, args[0], version)
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "org id")
	cmd.Flags().IntVar(&version, "version", 0, "version to export (defaults to latest)")
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "postgres url (defaults to DATABASE_URL)")
	return cmd
}

func exportFlow(cmd *cobra.Command, repo flow.Repository, orgID, flowID string, version int) error {
	var (
		def *flow.Definition
		err error
	)
	if version > 0 {
		def, err = repo.GetVersion(cmd.Context(), orgID, flowID, version)
	} else {
		def, err = repo.Get(cmd.Context(), orgID, flowID)
	}
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(def); err != nil {
		return fmt.Errorf("encode %s: %w", flowID, err)
	}
	return enc.Close()
}
