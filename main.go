package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"remoteconsole/adb"
	"remoteconsole/agent"
	"remoteconsole/api"
	"remoteconsole/config"
	"remoteconsole/service"
	"remoteconsole/transport"
)

// setupLogging creates a log file in the log directory with timestamp
// Returns the log file handle (caller should defer Close())
func setupLogging() (*os.File, error) {
	// Create log directory if not exists
	logDir := "log"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Create log file with timestamp: log/2025-12-08_21-52-35.log
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logDir, timestamp+".log")

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Write to both console and file
	multiWriter := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multiWriter)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	log.Printf("📝 Logging to: %s", logPath)
	return logFile, nil
}

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "remoteconsole",
		Short:         "Operator console for remote device control",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the operator console API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	var serial string
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the adb-backed development device agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if serial != "" {
				cfg.Agent.Serial = serial
			}
			return runAgent(cmd.Context(), cfg)
		},
	}
	agentCmd.Flags().StringVarP(&serial, "serial", "s", "", "adb serial of the device to drive")

	root.AddCommand(serveCmd, agentCmd)

	// Setup file logging
	logFile, err := setupLogging()
	if err != nil {
		log.Printf("Warning: Failed to setup file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Printf("❌ %v", err)
		stop()
		if logFile != nil {
			logFile.Close()
		}
		os.Exit(1)
	}
}

func buildDirectory(cfg *config.Config) (service.DeviceDirectory, func(), error) {
	if cfg.DevicesDB == "" {
		log.Printf("📱 Using %d devices from config", len(cfg.Devices))
		return service.NewDeviceManager(cfg.Devices...), func() {}, nil
	}
	db, err := config.OpenDatabase(cfg.DevicesDB)
	if err != nil {
		return nil, nil, err
	}
	return service.NewSQLiteDirectory(db), func() { db.Close() }, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log.Println("Starting remote console...")

	devices, closeDevices, err := buildDirectory(cfg)
	if err != nil {
		return err
	}
	defer closeDevices()

	console := service.NewConsole(service.Options{
		Transport:      transport.NewWSTransport(cfg.Console.GatewayURL, cfg.Console.Credential),
		Devices:        devices,
		Credential:     cfg.Console.Credential,
		StartTimeout:   cfg.Console.StartTimeout,
		CommandTimeout: cfg.Commands.Timeout,
		ICEServers:     cfg.WebRTC.STUNURLs,
		AutoSync:       cfg.Console.AutoSync,
	})
	defer console.Close()

	wsHub := api.NewWebSocketHub(console)

	router := gin.Default()
	api.SetupRoutes(router, console, wsHub)
	server := &http.Server{Addr: cfg.Console.Addr, Handler: router}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		log.Printf("Server starting on http://localhost%s", cfg.Console.Addr)
		log.Printf("WebSocket server on ws://localhost%s/ws", cfg.Console.Addr)
		log.Printf("Device gateway: %s", cfg.Console.GatewayURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("console server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runAgent(ctx context.Context, cfg *config.Config) error {
	client := adb.NewADBClient(cfg.Agent.ADBPath)

	serial := cfg.Agent.Serial
	if serial == "" {
		devices, err := client.ListDevices(ctx)
		if err != nil {
			return err
		}
		for _, d := range devices {
			if d.Online() {
				serial = d.ID
				break
			}
		}
		if serial == "" {
			return errors.New("no online adb device found; pass --serial")
		}
	}
	log.Printf("📱 Agent driving device %s", serial)

	credential := cfg.Agent.Credential
	if credential == "" {
		credential = cfg.Console.Credential
	}

	g, ctx := errgroup.WithContext(ctx)
	agentServer := agent.NewServer(ctx, agent.NewADBDevice(client, serial), serial, credential, cfg.Agent.MirrorFPS)

	router := gin.Default()
	agentServer.Routes(router)
	server := &http.Server{Addr: cfg.Agent.Addr, Handler: router}

	g.Go(func() error {
		log.Printf("Agent listening on ws://localhost%s/device", cfg.Agent.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("agent server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
