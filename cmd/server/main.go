// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"keyboard-service/internal/backup"
	"keyboard-service/internal/config"
	"keyboard-service/internal/database"
	"keyboard-service/internal/discovery"
	serialscan "keyboard-service/internal/discovery/serial"
	"keyboard-service/internal/discovery/usb"
	"keyboard-service/internal/focus"
	"keyboard-service/internal/handler"
	"keyboard-service/internal/hardware"
	"keyboard-service/internal/protocol"
	"keyboard-service/internal/protocol/serial"
	"keyboard-service/internal/repository"
	"keyboard-service/internal/routes"
	"keyboard-service/internal/service"
	"keyboard-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB
	eventBus *handler.EventBus

	dialer   protocol.Dialer
	lister   protocol.PortLister
	registry *hardware.Registry
	scanners *discovery.ScannerManager
	detector *discovery.Detector

	sessionRepo     repository.SessionRepository
	keyboardService *service.KeyboardService
	updateService   *service.UpdateService
}

// @title Keyboard Service API
// @version 1.0.0
// @description Firmware update and focus command service for Dygma Raise keyboards

// @contact.name Keyboard Service API Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8085
// @BasePath /
func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	migrateDown := flag.Bool("migrate-down", false, "roll back every database migration and exit")
	flag.Parse()

	if *migrateDown {
		if err := rollbackDatabase(*configPath); err != nil {
			fmt.Printf("Failed to roll back migrations: %v\n", err)
			os.Exit(1)
		}
		return
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Starting keyboard service",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.initializeDevices()
	app.initializeServices()
	app.initializeServer()

	return app, nil
}

// initializeDatabase connects and migrates when session history is persisted,
// otherwise history is kept in memory
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.sessionRepo = repository.NewMemorySessionRepository()
		app.logger.Info("Database disabled, session history kept in memory")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, app.config, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	migrator := database.NewMigrator(db, app.logger)
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("database schema version %d is dirty", version)
	}
	app.logger.Info("Database schema ready", zap.Uint("version", version))

	app.sessionRepo = repository.NewSessionRepository(db, app.logger)
	app.logger.Info("Database initialized successfully")
	return nil
}

// rollbackDatabase reverts the session history schema
func rollbackDatabase(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if !cfg.Database.Enabled {
		return fmt.Errorf("database is disabled")
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.CloseLogger(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	return database.NewMigrator(db, logger).Down()
}

// initializeDevices sets up serial access, the device registry and scanners
func (app *Application) initializeDevices() {
	serialConfig := protocol.DefaultSerialConfig()
	serialConfig.BaudRate = app.config.Serial.BaudRate
	serialConfig.ReadTimeout = app.config.Serial.ReadTimeout

	app.dialer = serial.NewDialer(serialConfig, app.logger)
	app.lister = serial.NewEnumerator(app.logger)

	app.registry = hardware.NewRegistry(app.logger)
	hardware.RegisterDefaultDevices(app.registry, app.newClient, app.logger)

	serialScanner := serialscan.NewScanner(app.lister, app.logger)
	usbScanner := usb.NewScanner(app.logger, nil)

	app.scanners = discovery.NewScannerManager(app.logger)
	app.scanners.RegisterScanner(serialScanner)
	app.scanners.RegisterScanner(usbScanner)

	app.detector = discovery.NewDetector(usbScanner, serialScanner, app.registry, app.logger)

	app.logger.Info("Device registry initialized",
		zap.Int("keyboards", len(app.registry.Keyboards())),
	)
}

// newClient creates a focus client with the configured request timeout
func (app *Application) newClient() *focus.Client {
	return focus.NewClient(app.dialer, app.lister, app.logger, focus.WithTimeout(app.config.Serial.RequestTimeout))
}

// initializeServices creates service instances. The update service owns its
// own focus client so a running session never shares a port with ad hoc commands.
func (app *Application) initializeServices() {
	app.eventBus = handler.NewEventBus(app.logger)

	gate := service.NewDeviceGate()
	app.keyboardService = service.NewKeyboardService(app.scanners, app.registry, app.newClient(), gate, app.logger)

	store := backup.NewFileStore(app.config.Flash.BackupDir, app.logger)
	app.updateService = service.NewUpdateService(
		app.newClient(),
		app.dialer,
		app.detector,
		app.registry,
		app.keyboardService,
		gate,
		store,
		app.sessionRepo,
		app.eventBus,
		app.config,
		app.logger,
	)

	app.logger.Info("Services initialized successfully")
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	var db handler.DatabaseChecker
	if app.database != nil {
		db = app.database
	}

	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		db,
		app.keyboardService,
		app.updateService,
		app.eventBus,
	)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      routerManager.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized", zap.String("address", app.config.GetServerAddr()))
}

// Start runs the server until a shutdown signal arrives
func (app *Application) Start() error {
	go app.eventBus.Start()

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErr:
		app.shutdown()
		return err
	}

	app.shutdown()
	return nil
}

// shutdown performs graceful shutdown. A running update is cancelled and
// allowed to persist its backup first.
func (app *Application) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.updateService.Shutdown(ctx); err != nil {
		app.logger.Error("Update session did not stop", zap.Error(err))
	}

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	app.eventBus.Close()

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")
	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}
