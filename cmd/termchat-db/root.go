package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aeolun/termchat/pkg/config"
	"github.com/aeolun/termchat/pkg/crypto"
	"github.com/aeolun/termchat/pkg/database"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const appName = "termchat-db"

// errPassphraseRequired is returned when an encrypted store is opened
// without its passphrase.
var errPassphraseRequired = errors.New("store is encrypted")

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Inspect and maintain the termchat message store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(appName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", config.DefaultPath, "config file")
	cmd.PersistentFlags().String("db", "", "store path (overrides [storage] path)")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")
	cmd.PersistentFlags().Bool("metrics", false, "print store operation counts on exit")

	cmd.AddCommand(
		newChannelsCmd(),
		newTimelineCmd(),
		newMessageCmd(),
		newEditsCmd(),
		newNamesCmd(),
		newMetadataCmd(),
		newMigrateCmd(),
		newExportCmd(),
		newImportCmd(),
		newIngestCmd(),
	)

	return cmd
}

// session is an open store plus everything a command needs around it.
type session struct {
	cfg      config.Config
	log      zerolog.Logger
	db       *database.DB
	store    database.Store
	registry *prometheus.Registry
	jsonMode bool
	metrics  bool
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	path, err := cfg.StorePath()
	if err != nil {
		return nil, err
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
		Level(cfg.LogLevel()).
		With().Timestamp().Logger()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	cipher, err := openCipher(path, cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	db, err := database.Open(path, database.Options{
		Logger:             &log,
		Metrics:            database.NewMetrics(registry),
		Cipher:             cipher,
		QuoteSnippetLength: cfg.View.QuoteSnippetLength,
	})
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, log: log, db: db, store: db, registry: registry}
	s.jsonMode, _ = cmd.Flags().GetBool("json")
	s.metrics, _ = cmd.Flags().GetBool("metrics")

	if cfg.Storage.Cache {
		cache, err := database.NewMemCache(cmd.Context(), db)
		if err != nil {
			db.Close()
			return nil, err
		}
		s.store = cache
	}

	log.Debug().Str("path", path).Bool("encrypted", cipher != nil).Bool("cache", cfg.Storage.Cache).Msg("store opened")
	return s, nil
}

// openCipher returns the at-rest cipher for the store at path, or nil when the
// store is not encrypted and no passphrase is configured.
func openCipher(path string, cfg config.Config) (database.Cipher, error) {
	passphrase := cfg.Passphrase()
	encrypted := crypto.IsEncrypted(path)

	if passphrase == "" {
		if encrypted {
			return nil, fmt.Errorf("%w: set $%s", errPassphraseRequired, cfg.Storage.PassphraseEnv)
		}
		return nil, nil
	}

	if !encrypted {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("store %s holds unencrypted data; export it and import into a new store to encrypt", path)
		}
	}

	c, created, err := crypto.OpenCipher(path, passphrase)
	if err != nil {
		return nil, err
	}
	if created {
		fmt.Fprintln(os.Stderr, infoStyle.Render("Created encryption salt ")+crypto.SaltPath(path))
	}
	return c, nil
}

func (s *session) close(cmd *cobra.Command) {
	if s.metrics {
		s.printMetrics(cmd)
	}
	if err := s.db.Close(); err != nil {
		s.log.Warn().Err(err).Msg("failed to close store")
	}
}

// printMetrics writes the non-zero operation counters of this run.
func (s *session) printMetrics(cmd *cobra.Command) {
	families, err := s.registry.Gather()
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to gather metrics")
		return
	}

	var lines []string
	for _, mf := range families {
		if mf.GetName() != "termchat_store_operations_total" && mf.GetName() != "termchat_store_decode_failures_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			line := mf.GetName()
			for _, lp := range m.GetLabel() {
				line += fmt.Sprintf(" %s=%s", lp.GetName(), lp.GetValue())
			}
			lines = append(lines, fmt.Sprintf("%-70s %g", line, m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)

	out := cmd.ErrOrStderr()
	fmt.Fprintln(out, headerStyle.Render("Store operations"))
	for _, line := range lines {
		fmt.Fprintln(out, dimStyle.Render(line))
	}
}
