package main

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"drcare/internal/config"
	"drcare/internal/history"
	"drcare/internal/logging"
	"drcare/internal/platform/telegram"
	"drcare/internal/report"

	_ "github.com/lib/pq"
)

var version = "dev"

var (
	envFile string
	cfg     config.Config
	logger  zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "drcare",
		Short: "Dr.Care - voice-enabled medical consultation assistant",
		Long: `Dr.Care serves the consultation API: a patient chats with an AI doctor,
opens diagnosis, medicine, diet, lab report, X-ray and first aid panels, and
every answered question is kept in the session history.

Start the server:     drcare serve
List the history:     drcare history list
Export one record:    drcare history export <id>`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file to load before the environment")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("drcare %s\n", version)
		},
	})
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(historyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	if cfg, err = config.Load(envFile); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = logging.New(cfg.LogLevel, cfg.LogPretty)
	return nil
}

// openRepository opens the configured history store.
func openRepository() (history.Repository, error) {
	switch cfg.HistoryStore {
	case "postgres":
		db, err := connectPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := history.Migrate(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Msg("migrations applied")
		return history.NewPostgresRepository(db), nil
	case "memory":
		logger.Warn().Msg("history is kept in memory and lost on exit")
		return history.NewMemoryRepository(), nil
	default:
		return history.NewBoltRepository(cfg.BoltPath)
	}
}

func connectPostgres(url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	const attempts = 10
	for i := 1; i <= attempts; i++ {
		if err = db.Ping(); err == nil {
			logger.Info().Msg("connected to database")
			return db, nil
		}
		logger.Info().Int("attempt", i).Int("of", attempts).Msg("waiting for database")
		time.Sleep(2 * time.Second)
	}
	_ = db.Close()
	return nil, fmt.Errorf("connect to database: %w", err)
}

func newReports() *report.Service {
	var sender report.DocumentSender
	if cfg.TelegramToken != "" {
		sender = telegram.NewClient(cfg.TelegramToken)
	}
	if sender != nil && cfg.DoctorChatID == 0 {
		logger.Warn().Msg("DOCTOR_CHAT_ID is not set; reports will not be shared")
	}
	return report.NewService(cfg.PDFFontPath, sender, cfg.DoctorChatID, logger)
}
