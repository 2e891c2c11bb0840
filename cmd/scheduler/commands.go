package main

import (
	"encoding/json"
	"fmt"
	"path"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seantiz/factory-scheduler/internal/backend/docker"
	"github.com/seantiz/factory-scheduler/internal/imagebuild"
	"github.com/seantiz/factory-scheduler/internal/naming"
	"github.com/seantiz/factory-scheduler/internal/store"
)

func newNameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "name",
		Short: "Suggest a random experiment name",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), naming.RandomName())
		},
	}
}

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and delete backend jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List job ids known to the configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			artifacts, err := openArtifactStore(cmd, cfg)
			if err != nil {
				return err
			}
			svc, err := buildBackends(cfg, artifacts, logger).Resolve(cfg.Backend)
			if err != nil {
				return err
			}
			ids, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <job-id>...",
		Short: "Delete jobs from the configured backend",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			artifacts, err := openArtifactStore(cmd, cfg)
			if err != nil {
				return err
			}
			svc, err := buildBackends(cfg, artifacts, logger).Resolve(cfg.Backend)
			if err != nil {
				return err
			}
			db, err := store.NewSQLiteStore(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			for _, id := range args {
				if err := svc.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				if err := db.MarkSubmission(cmd.Context(), id, store.SubmissionDeleted); err != nil {
					logger.Warn("ledger not updated", "job_id", id, "error", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	})
	return cmd
}

func newSubmissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submissions",
		Short: "List recorded job submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			state, _ := cmd.Flags().GetString("state")
			asJSON, _ := cmd.Flags().GetBool("json")

			db, err := store.NewSQLiteStore(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			subs, err := db.ListSubmissions(cmd.Context(), state)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(subs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tEXPERIMENT\tSCENARIO\tSTATE\tCREATED")
			for _, s := range subs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.JobID, s.Experiment, s.Scenario, s.State, s.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("state", "", "only show submissions in this state (submitted, orphaned, rolled_back, deleted)")
	cmd.Flags().Bool("json", false, "print JSON instead of a table")
	return cmd
}

func newImageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Manage the solver container image",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Build and publish the solver image unless it already exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			artifacts, err := openArtifactStore(cmd, cfg)
			if err != nil {
				return err
			}

			remote := cfg.ArtifactsRegistry != ""
			cli := docker.CLI{}
			built, err := imagebuild.EnsureImage(cmd.Context(), artifacts,
				imagebuild.DockerBuilder{Runner: cli, Artifacts: artifacts, Push: remote},
				imagebuild.DockerRegistry{Runner: cli, Remote: remote},
				imagebuild.Source{
					LocalArchive:  cfg.ImageArchive,
					Bucket:        cfg.Bucket,
					RemoteArchive: path.Join(cfg.DataPrefix, "images", path.Base(cfg.ImageArchive)),
				},
				cfg.ContainerImage(), logger)
			if err != nil {
				return err
			}
			if built {
				fmt.Fprintf(cmd.OutOrStdout(), "built %s\n", cfg.ContainerImage())
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", cfg.ContainerImage())
			}
			return nil
		},
	})
	return cmd
}
