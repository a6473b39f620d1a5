package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"voxqueue/internal/app"
	"voxqueue/internal/config"
	"voxqueue/pkg/logger"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

var (
	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Install voxqueue as a background OS service",
		Run: func(cmd *cobra.Command, args []string) {
			runServiceAction(func(s service.Service) error { return s.Install() }, "installed")
		},
	}

	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the installed voxqueue service",
		Run: func(cmd *cobra.Command, args []string) {
			runServiceAction(func(s service.Service) error { return s.Start() }, "started")
		},
	}

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop the installed voxqueue service",
		Run: func(cmd *cobra.Command, args []string) {
			runServiceAction(func(s service.Service) error { return s.Stop() }, "stopped")
		},
	}

	uninstallCmd = &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the installed voxqueue service",
		Run: func(cmd *cobra.Command, args []string) {
			runServiceAction(func(s service.Service) error { return s.Uninstall() }, "uninstalled")
		},
	}

	serviceRunCmd = &cobra.Command{
		Use:    "service-run",
		Hidden: true,
		Run: func(cmd *cobra.Command, args []string) {
			prg := &program{}
			s, err := service.New(prg, serviceConfig())
			if err != nil {
				log.Fatalf("voxqueue: create service: %v", err)
			}
			prg.svc = s
			if err := s.Run(); err != nil {
				log.Fatalf("voxqueue: service run: %v", err)
			}
		},
	}
)

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(serviceRunCmd)
}

// serviceConfig describes voxqueue to the OS service manager (systemd,
// launchd, or Windows SCM depending on platform). The installed service
// re-invokes this same executable with the hidden service-run subcommand.
func serviceConfig() *service.Config {
	exe, err := os.Executable()
	if err != nil {
		log.Fatalf("voxqueue: resolve executable path: %v", err)
	}
	return &service.Config{
		Name:        "voxqueue",
		DisplayName: "voxqueue transcription job service",
		Description: "Accepts transcription jobs over HTTP and processes them through a fetch/extract/transcribe/render pipeline.",
		Executable:  exe,
		Arguments:   []string{"service-run"},
	}
}

func runServiceAction(action func(service.Service) error, verb string) {
	s, err := service.New(&program{}, serviceConfig())
	if err != nil {
		log.Fatalf("voxqueue: create service: %v", err)
	}
	if err := action(s); err != nil {
		log.Fatalf("voxqueue: %s service: %v", verb, err)
	}
	fmt.Printf("voxqueue service %s.\n", verb)
}

// program adapts the serve command's lifecycle to kardianos/service's
// Start/Stop callbacks, which must not block.
type program struct {
	app *app.App
	svc service.Service
}

func (p *program) Start(s service.Service) error {
	go p.run()
	return nil
}

func (p *program) run() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	if err := checkDependencies(cfg); err != nil {
		logger.Error("service: dependency check failed", "error", err)
		return
	}

	a, err := app.New(cfg)
	if err != nil {
		logger.Error("service: failed to construct application", "error", err)
		return
	}
	p.app = a

	if err := a.Start(); err != nil {
		logger.Error("service: server exited with error", "error", err)
	}
}

func (p *program) Stop(s service.Service) error {
	if p.app == nil {
		return nil
	}
	return p.app.Shutdown(context.Background())
}
