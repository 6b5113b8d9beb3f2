package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	businessflow "github.com/amirphl/snowflake-id/business_flow"
	"github.com/amirphl/snowflake-id/config"
	"github.com/amirphl/snowflake-id/models"
	"github.com/amirphl/snowflake-id/utils"
	"github.com/spf13/cobra"
)

// cli holds state shared by the subcommands of one invocation
type cli struct {
	cfg      *config.Config
	closeLog func()
}

// close releases what the persistent pre-run acquired. It runs whatever the command returned.
func (c *cli) close() {
	if c.closeLog != nil {
		c.closeLog()
		c.closeLog = nil
	}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "snowflake-id",
		Short:         "Per-entity 64-bit time-ordered id service",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			c.cfg = cfg
			_, c.closeLog = initializeLogging(cfg.Logging)
			return nil
		},
	}

	root.AddCommand(
		c.serveCmd(),
		c.setupCmd(),
		c.provisionCmd(),
		c.generateCmd(),
		c.decodeCmd(),
		c.tokenCmd(),
	)
	return root
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(c.cfg)
		},
	}
}

func (c *cli) setupCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Prepare backend storage: sequence_counters for table, timestamp_id() for postgres_sequence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := initializeStorage(c.cfg)
			if err != nil {
				return err
			}
			defer st.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := st.store.Setup(ctx); err != nil {
				return fmt.Errorf("%s setup failed: %w", st.store.Backend(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s storage ready\n", st.store.Backend())
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "setup timeout")
	return cmd
}

func (c *cli) provisionCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "provision [entity...]",
		Short: "Ensure counters exist for the given entities (default: SNOWFLAKE_ENTITIES)",
		RunE: func(cmd *cobra.Command, args []string) error {
			entities := args
			if len(entities) == 0 {
				entities = c.cfg.Snowflake.Entities
			}
			if len(entities) == 0 {
				return errors.New("no entities given and SNOWFLAKE_ENTITIES is empty")
			}

			st, err := initializeStorage(c.cfg)
			if err != nil {
				return err
			}
			defer st.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			report := newProvisioningFlow(c.cfg, st.store).EnsureAll(ctx, entities)
			printReport(cmd.OutOrStdout(), report)

			if n := report.Count(models.ProvisionFailed); n > 0 {
				return fmt.Errorf("%d of %d entities failed to provision", n, len(report.Entities))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall provisioning timeout")
	return cmd
}

func printReport(w io.Writer, report *models.ProvisionReport) {
	fmt.Fprintf(w, "run %s (backend %s)\n", report.RunID, report.Backend)
	for _, entity := range report.Entities {
		o := report.Outcomes[entity]
		if o.Reason != "" {
			fmt.Fprintf(w, "  %-32s %-15s %s\n", entity, o.Status, o.Reason)
			continue
		}
		fmt.Fprintf(w, "  %-32s %s\n", entity, o.Status)
	}
}

func (c *cli) generateCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "generate <entity>",
		Short: "Generate ids for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 || count > utils.MaxIDsPerRequest {
				return fmt.Errorf("-n must be between 1 and %d", utils.MaxIDsPerRequest)
			}

			st, err := initializeStorage(c.cfg)
			if err != nil {
				return err
			}
			defer st.close()

			ids, err := newSnowflakeFlow(c.cfg, st.store).GenerateN(cmd.Context(), args[0], count)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of ids to generate")
	return cmd
}

func (c *cli) decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <id>",
		Short: "Split an id into its timestamp and sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("id must be a base-10 64-bit integer: %w", err)
			}
			parts, err := businessflow.DecomposeID(c.cfg.Snowflake.Epoch, id)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "id:         %d\n", parts.ID)
			fmt.Fprintf(w, "timestamp:  %s\n", parts.Timestamp.Format(time.RFC3339Nano))
			fmt.Fprintf(w, "elapsed_ms: %d\n", parts.ElapsedMs)
			fmt.Fprintf(w, "sequence:   %d\n", parts.Sequence)
			return nil
		},
	}
}

func (c *cli) tokenCmd() *cobra.Command {
	var adminID uint

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin access token for the provisioning API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if adminID == 0 {
				return errors.New("--admin-id must be positive")
			}
			tokenService, err := newTokenService(c.cfg.JWT)
			if err != nil {
				return err
			}
			token, expiresAt, err := tokenService.GenerateAdminToken(adminID)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().UintVar(&adminID, "admin-id", 0, "admin id embedded in the token")
	_ = cmd.MarkFlagRequired("admin-id")
	return cmd
}
