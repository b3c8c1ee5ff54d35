package commands

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jask/moneysync/internal/category"
	"github.com/jask/moneysync/internal/config"
	"github.com/jask/moneysync/internal/database"
	"github.com/jask/moneysync/internal/database/repository"
	"github.com/jask/moneysync/internal/llm"
	"github.com/jask/moneysync/internal/logger"
	"github.com/jask/moneysync/internal/match"
	"github.com/jask/moneysync/internal/prefs"
	"github.com/jask/moneysync/internal/provider"
	"github.com/jask/moneysync/internal/secrets"
	"github.com/jask/moneysync/internal/service"
)

// Secret store entry names.
const (
	keyPlaidSecret = "plaid_secret"
	keyGemini      = "gemini_api_key"
)

type providerFactory func(a *app) (provider.Provider, error)

type rootOptions struct {
	configPath  string
	logLevel    string
	newProvider providerFactory
}

func (o *rootOptions) path() string {
	if o.configPath != "" {
		return o.configPath
	}
	return config.Path()
}

// prefsDir holds user preference files next to the config file.
func (o *rootOptions) prefsDir() string {
	return filepath.Dir(o.path())
}

// app holds everything a command needs once config is loaded and the
// database is open.
type app struct {
	cfg    config.Config
	log    zerolog.Logger
	db     *sql.DB
	vocab  *category.Vocabulary
	sealer *secrets.Sealer

	txs      *repository.TransactionRepo
	accounts *repository.AccountRepo
	insts    *repository.InstitutionRepo
	runs     *repository.SyncRunRepo

	opts *rootOptions
}

func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadFile(opts.path())
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	log, err := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, log, nil
}

// openApp loads config, sets up logging and opens the migrated database.
// Callers must Close the returned app.
func openApp(cmd *cobra.Command, opts *rootOptions) (*app, error) {
	cfg, log, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	vocab, err := prefs.Vocabulary(opts.prefsDir())
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	sealer, err := secrets.NewSealer(os.Getenv(cfg.Secrets.KeyEnv))
	if err != nil {
		return nil, fmt.Errorf("init sealer: %w", err)
	}
	db, err := database.Setup(cfg.Database.Path, database.Options{MaxOpenConns: cfg.Database.MaxOpenConns})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	log.Debug().Str("path", cfg.Database.Path).Msg("database ready")
	return &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		vocab:    vocab,
		sealer:   sealer,
		txs:      repository.NewTransactionRepo(db),
		accounts: repository.NewAccountRepo(db),
		insts:    repository.NewInstitutionRepo(db, sealer),
		runs:     repository.NewSyncRunRepo(db),
		opts:     opts,
	}, nil
}

func (a *app) Close() error { return a.db.Close() }

func (a *app) keyStore() (*secrets.FileStore, error) {
	return secrets.NewFileStore(a.cfg.Secrets.Dir, a.sealer)
}

// secret returns the first non-empty of value, the named env var and the
// secret store entry.
func (a *app) secret(value, env, stored string) (string, error) {
	if v := strings.TrimSpace(value); v != "" {
		return v, nil
	}
	if env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v, nil
		}
	}
	store, err := a.keyStore()
	if err != nil {
		return "", err
	}
	v, err := store.Fetch(stored)
	if errors.Is(err, secrets.ErrNotFound) {
		return "", nil
	}
	return v, err
}

func plaidProvider(a *app) (provider.Provider, error) {
	secret, err := a.secret(a.cfg.Plaid.Secret, "PLAID_SECRET", keyPlaidSecret)
	if err != nil {
		return nil, fmt.Errorf("plaid secret: %w", err)
	}
	clientID := a.cfg.Plaid.ClientID
	if clientID == "" {
		clientID = os.Getenv("PLAID_CLIENT_ID")
	}
	return provider.NewPlaidClient(provider.Config{
		ClientID:          clientID,
		Secret:            secret,
		Environment:       a.cfg.Plaid.Environment,
		BaseURL:           a.cfg.Plaid.BaseURL,
		PageSize:          a.cfg.Plaid.PageSize,
		RequestsPerSecond: a.cfg.Plaid.RequestsPerSecond,
		MaxRetries:        a.cfg.Plaid.MaxRetries,
		Timeout:           a.cfg.Plaid.Timeout,
	}, a.log)
}

func (a *app) classifier() (llm.Classifier, error) {
	switch strings.ToLower(a.cfg.LLM.Provider) {
	case "gemini":
		key, err := a.secret(a.cfg.LLM.APIKey, a.cfg.LLM.APIKeyEnv, keyGemini)
		if err != nil {
			return nil, fmt.Errorf("gemini api key: %w", err)
		}
		if key == "" {
			return nil, llm.ErrNoAPIKey
		}
		return llm.NewGeminiClassifier(key, a.cfg.LLM.Model), nil
	default:
		return llm.NewKeywordClassifier(), nil
	}
}

func (a *app) categorizer() (*service.CategorizerService, error) {
	cl, err := a.classifier()
	if err != nil {
		return nil, err
	}
	return &service.CategorizerService{
		Transactions:  a.txs,
		Classifier:    cl,
		Vocabulary:    a.vocab,
		MinConfidence: a.cfg.LLM.ConfidenceThreshold,
		Log:           a.log,
	}, nil
}

func (a *app) syncService() (*service.SyncService, error) {
	p, err := a.opts.newProvider(a)
	if err != nil {
		return nil, err
	}
	tol, err := a.cfg.Match.Tolerance()
	if err != nil {
		return nil, err
	}
	svc := &service.SyncService{
		Institutions:   a.insts,
		Accounts:       a.accounts,
		Transactions:   a.txs,
		Runs:           a.runs,
		Provider:       p,
		Detector:       match.NewDetector(a.txs, match.Options{
			AmountTolerance: tol,
			DayWindow:       a.cfg.Match.DayWindow,
			MinSimilarity:   a.cfg.Match.MinSimilarity,
		}),
		AutoCategorize: a.cfg.Sync.AutoCategorize,
		Cooldown:       a.cfg.Sync.Cooldown,
		Concurrency:    a.cfg.Sync.Concurrency,
		Log:            a.log,
	}
	if svc.AutoCategorize {
		if svc.Categorizer, err = a.categorizer(); err != nil {
			return nil, err
		}
	}
	svc.Observer = func(institution string, from, to service.State) {
		a.log.Debug().Str("institution", institution).Str("from", string(from)).Str("to", string(to)).Msg("sync state")
	}
	return svc, nil
}

// withApp runs fn with an open app and closes it afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(a *app) error) error {
	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
