package main

import (
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
	"soundmesh/internal/catalog"
	"soundmesh/internal/federation"
	"soundmesh/internal/shared"
	"soundmesh/internal/spotify"
)

// Runner holds all dependencies for CLI commands and provides methods for
// each command action.
type Runner struct {
	config     *shared.Config
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, serveCommand, searchCommand, browseCommand, userCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// stack is the wired dependency graph every data-touching command runs on.
type stack struct {
	db     *sql.DB
	store  *catalog.SQLiteStore
	users  *catalog.UserRepository
	tokens *spotify.TokenManager
	client *spotify.Client
	engine *federation.Engine
}

// openStack connects to the database and wires the catalog, Spotify client
// and federation engine.
func (r *Runner) openStack(cmd *cli.Command) (*stack, error) {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	store := catalog.NewSQLiteStore(db)
	users := catalog.NewUserRepository(db)
	cache := catalog.NewItemCache(catalog.DefaultCacheTTL)

	accountsURL := config.Spotify.AccountsURL
	if accountsURL == "" {
		accountsURL = spotify.DefaultAccountsURL
	}

	fallback := spotify.Credential{
		ClientID:     config.Spotify.ClientID,
		ClientSecret: config.Spotify.ClientSecret,
	}
	spotifyLogger := shared.WithLogger(r.logger, "component", "spotify")
	tokens := spotify.NewTokenManager(users, fallback, accountsURL, r.httpClient, spotifyLogger)
	if known, err := users.List(); err == nil {
		tokens.Preload(known)
	}

	client := spotify.NewClient(config.Spotify, tokens, r.httpClient, spotifyLogger)
	federationLogger := shared.WithLogger(r.logger, "component", "federation")
	mat := federation.NewMaterializer(store, cache, federationLogger)
	engine := federation.NewEngine(store, client, mat, federationLogger)

	return &stack{
		db:     db,
		store:  store,
		users:  users,
		tokens: tokens,
		client: client,
		engine: engine,
	}, nil
}

func (s *stack) Close() error {
	return s.db.Close()
}

// loadConfig resolves the --config flag, falling back to the runner's
// startup config when the file is absent.
func (r *Runner) loadConfig(cmd *cli.Command) (*shared.Config, error) {
	configPath := cmd.String("config")
	if configPath == "" {
		return r.config, nil
	}

	if _, err := os.Stat(configPath); err != nil {
		return r.config, nil
	}

	config, err := shared.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return config, nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
