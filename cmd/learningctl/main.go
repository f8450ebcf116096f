// Command learningctl inspects and maintains the feedback-learning store
// from the shell.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/zatekoja/concussionrehab/internal/adapters/kvstore"
	"github.com/zatekoja/concussionrehab/internal/application/services"
	"github.com/zatekoja/concussionrehab/internal/domain/providers"
	"github.com/zatekoja/concussionrehab/internal/infrastructure/observability"
	"github.com/zatekoja/concussionrehab/pkg/config"
	"github.com/zatekoja/concussionrehab/pkg/secrets"
)

// StoreFlags selects the learning store, overriding the environment.
type StoreFlags struct {
	Backend  string
	LogLevel string
}

// BindFlags registers the store flags on fs.
func (f *StoreFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.Backend, "store-backend", f.Backend, "Learning store backend (memory, redis, postgres); defaults to STORE_BACKEND")
	fs.StringVar(&f.LogLevel, "log-level", f.LogLevel, "Log level (debug, info, warn, error)")
}

// session is an opened store plus the loaded configuration.
type session struct {
	cfg   *config.Config
	store providers.KeyValueStore
	close func() error
}

func (f *StoreFlags) open(ctx context.Context) (*session, error) {
	if _, err := secrets.ApplyOverlay(ctx, secrets.VaultConfigFromEnv()); err != nil {
		return nil, fmt.Errorf("failed to apply vault secrets: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if f.Backend != "" {
		cfg.Store.Backend = f.Backend
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	observability.InitLoggerTo(os.Stderr, "learningctl", cfg.Env, cfg.LogLevel)

	store, closeStore, err := kvstore.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, store: store, close: closeStore}, nil
}

func (s *session) learning() *services.LearningService {
	return services.NewLearningService(s.store, s.cfg.Learning)
}

func (s *session) Close() {
	if err := s.close(); err != nil {
		log.Error().Err(err).Msg("Error closing learning store")
	}
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCommand() *cobra.Command {
	flags := &StoreFlags{}
	root := &cobra.Command{
		Use:           "learningctl",
		Short:         "Inspect and maintain the concussion-rehab learning store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newMetricsCommand(flags),
		newInsightsCommand(flags),
		newRetrainCommand(flags),
		newAnalyzeCommand(flags),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
