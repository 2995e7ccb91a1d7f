package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/universal-ai/gateway/internal/admin"
	"github.com/universal-ai/gateway/internal/config"
	"github.com/universal-ai/gateway/internal/logger"
	"github.com/universal-ai/gateway/internal/models"
	"go.uber.org/zap"
)

var (
	keyName        string
	initialCredits int64
	dailyLimit     int64
	creditsToAdd   int64
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys offline",
	Long: `Manage API keys directly against the configured key storage.
Run these while the server is stopped; a running server overwrites the
storage on its next flush.`,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all API keys with their balances",
	RunE:  runKeysList,
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API key",
	RunE:  runKeysGenerate,
}

var keysCreditCmd = &cobra.Command{
	Use:   "credit <api-key>",
	Short: "Add credits to an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysCredit,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysListCmd, keysGenerateCmd, keysCreditCmd)

	keysGenerateCmd.Flags().StringVar(&keyName, "name", "User Key", "display name of the key")
	keysGenerateCmd.Flags().Int64Var(&initialCredits, "credits", -1, "initial credits (default from config)")
	keysGenerateCmd.Flags().Int64Var(&dailyLimit, "daily-limit", -1, "daily request limit (default from config)")
	keysCreditCmd.Flags().Int64Var(&creditsToAdd, "amount", 10, "credits to add")
}

// withSession runs fn with an admin session over the restored key store and
// flushes the store afterwards
func withSession(fn func(ctx context.Context, s *admin.Session) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	// the CLI keeps its usage log in memory
	cfg.Usage.Driver = config.UsageMemory

	log, err := logger.NewDevelopment()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := buildCore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.close()

	session, err := c.admin.Authenticate(admin.Credential{
		Username: cfg.Security.AdminUsername,
		Password: cfg.Security.AdminPassword,
	})
	if err != nil {
		return fmt.Errorf("admin credentials are not configured: %w", err)
	}

	if err := fn(ctx, session); err != nil {
		return err
	}

	if err := c.syncer.Flush(ctx); err != nil {
		log.Error("Failed to save keys", zap.Error(err))
		return err
	}
	return nil
}

func runKeysList(cmd *cobra.Command, args []string) error {
	return withSession(func(ctx context.Context, s *admin.Session) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tNAME\tCREDITS\tUSAGE\tDAILY LIMIT\tCREATED\tEXPIRES")
		for _, k := range s.ListKeys() {
			expires := "never"
			if k.ExpiresAt != nil {
				expires = k.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
				k.Key, k.Name, k.Credits, k.UsageCount, k.DailyLimit, k.CreatedAt.Format(time.RFC3339), expires)
		}
		return w.Flush()
	})
}

func runKeysGenerate(cmd *cobra.Command, args []string) error {
	return withSession(func(ctx context.Context, s *admin.Session) error {
		var credits, limit *int64
		if cmd.Flags().Changed("credits") {
			credits = &initialCredits
		}
		if cmd.Flags().Changed("daily-limit") {
			limit = &dailyLimit
		}

		key, err := s.GenerateKey(keyName, credits, limit)
		if err != nil {
			return err
		}

		fmt.Printf("API key: %s\n", key.Key)
		fmt.Printf("   Name: %s\n", key.Name)
		fmt.Printf("   Credits: %d\n", key.Credits)
		fmt.Printf("   Daily limit: %d\n", key.DailyLimit)
		return nil
	})
}

func runKeysCredit(cmd *cobra.Command, args []string) error {
	return withSession(func(ctx context.Context, s *admin.Session) error {
		key, err := s.AddCredits(args[0], creditsToAdd)
		if err != nil {
			return err
		}

		fmt.Printf("Added %d credits to %s, balance is now %d\n",
			creditsToAdd, models.MaskKey(key.Key), key.Credits)
		return nil
	})
}
