// Command lecternd runs the summarization daemon: it watches the queue,
// drives jobs through the pipeline stages, and serves the control socket
// used by the lectern CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"lectern/internal/config"
	"lectern/internal/daemon"
	"lectern/internal/ipc"
	"lectern/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/lectern/config.toml)")
	initConfig := flag.Bool("init", false, "write a sample config file and exit")
	flag.Parse()

	if *initConfig {
		if err := config.WriteSample(*configPath); err != nil {
			log.Fatalf("write sample config: %v", err)
		}
		path := *configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		fmt.Printf("wrote sample config to %s\n", path)
		return
	}

	if err := run(*configPath); err != nil {
		log.Fatalf("lecternd: %v", err)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "lecternd.log")},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	server, err := ipc.NewServer(ctx, cfg.Paths.Socket, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer server.Close()
	server.Serve()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	logger.Info("lecternd running",
		logging.Int("pid", os.Getpid()),
		logging.String("socket", cfg.Paths.Socket),
		logging.String("queue_db", cfg.QueueDBPath()))

	<-ctx.Done()
	logger.Info("lecternd shutting down")
	return nil
}
