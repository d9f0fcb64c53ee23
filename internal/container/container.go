package container

import (
	"fmt"
	"time"

	"cohortpulse/adapters/excel"
	"cohortpulse/adapters/llm"
	"cohortpulse/adapters/postgres"
	"cohortpulse/app"
	"cohortpulse/domain/cohort"
	"cohortpulse/internal"
	"cohortpulse/internal/cache"
	"cohortpulse/internal/config"
	"cohortpulse/internal/sqlfix"
	"cohortpulse/ports"

	"github.com/jmoiron/sqlx"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB       *sqlx.DB
	Registry *cohort.Registry
	Cache    *cache.Cache

	// Adapters
	MetricsRepo ports.CohortMetricsRepository
	QueryRunner ports.QueryRunner
	LLMClient   ports.LLMClient
	Translator  ports.SQLTranslator
	Insights    ports.InsightWriter
	Exporter    ports.ResultExporter
	Corrector   *sqlfix.Corrector

	// Services
	Dashboard *app.DashboardService
	Queries   *app.QueryService
}

// New creates a new dependency injection container with the pieces that
// need no database: cohort registry, cache, corrector and LLM adapters.
func New(cfg *config.Config, logger *internal.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = internal.NewNopLogger()
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
	}

	registry, err := cohort.LoadRegistryFile(cfg.Cohort.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load cohort registry: %w", err)
	}
	if _, err := registry.Get(cfg.Cohort.Default); err != nil {
		return nil, fmt.Errorf("default cohort: %w", err)
	}
	c.Registry = registry

	c.Cache = cache.New("dashboard", cache.WithDefaultTTL(cfg.Cache.TTL))
	c.Corrector = sqlfix.NewCorrector(sqlfix.RulesWithLiterals(
		cfg.SQLFix.ClassDayLiterals,
		cfg.SQLFix.ActiveBuilderLiterals,
		cfg.SQLFix.TotalTaskLiterals,
	)...)
	for _, rule := range c.Corrector.Rules() {
		logger.Debug("Denominator rule %s: literals %v", rule.Category, rule.Literals)
	}
	c.Exporter = excel.NewExporter()

	if cfg.AI.Enabled() {
		if err := c.initAIComponents(); err != nil {
			logger.Warn("AI components unavailable: %v", err)
		}
	} else {
		logger.Info("OPENAI_API_KEY not set; natural language queries disabled")
	}

	return c, nil
}

// initAIComponents builds the LLM client and its adapters
func (c *Container) initAIComponents() error {
	client, err := llm.NewClient(llm.Config{
		Model:       c.Config.AI.Model,
		APIKey:      c.Config.AI.OpenAIKey,
		BaseURL:     c.Config.AI.BaseURL,
		Temperature: c.Config.AI.Temperature,
		MaxTokens:   c.Config.AI.MaxTokens,
		Timeout:     c.Config.AI.Timeout,
	})
	if err != nil {
		return err
	}

	c.LLMClient = client
	c.Translator = llm.NewTranslator(client, c.Config.AI.Model, c.Config.AI.MaxTokens)
	c.Insights = llm.NewInsightWriter(client, c.Config.AI.Model, c.Config.AI.MaxTokens)
	c.Logger.Info("LLM client initialized (model=%s)", c.Config.AI.Model)
	return nil
}

// InitWithDatabase initializes components that require database access
func (c *Container) InitWithDatabase(db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}

	c.DB = db

	// Test database connection
	if err := db.Ping(); err != nil {
		return fmt.Errorf("database connection test failed: %w", err)
	}

	c.MetricsRepo = postgres.NewMetricsRepository(db)
	c.QueryRunner = postgres.NewQueryRunner(db, c.Config.Query.Timeout)
	c.initServices()

	c.Logger.Info("Container initialized successfully with database connection")
	return nil
}

// initServices wires the application services from whatever adapters are set
func (c *Container) initServices() {
	c.Dashboard = app.NewDashboardService(c.MetricsRepo, c.Registry, c.Cache, c.Config.Cache.TTL, c.Logger.With("component", "dashboard"))

	// typed nils would defeat the service's "not configured" checks
	var translator ports.SQLTranslator
	var insights ports.InsightWriter
	if c.Translator != nil {
		translator = c.Translator
		insights = c.Insights
	}
	c.Queries = app.NewQueryService(translator, insights, c.QueryRunner, c.Exporter, c.Corrector, app.QueryServiceConfig{
		DefaultCohort: c.Config.Cohort.Default,
		MaxRows:       c.Config.Query.MaxRows,
	}, c.Logger.With("component", "query"))
}

// ConfigurePool applies connection pool limits from config
func ConfigurePool(db *sqlx.DB, cfg config.DatabaseConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
}

// Close releases the database connection
func (c *Container) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
