// cmd/flasher/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"keyboard-service/internal/backup"
	"keyboard-service/internal/config"
	"keyboard-service/internal/discovery"
	serialscan "keyboard-service/internal/discovery/serial"
	"keyboard-service/internal/discovery/usb"
	"keyboard-service/internal/flash"
	"keyboard-service/internal/focus"
	"keyboard-service/internal/hardware"
	"keyboard-service/internal/model"
	"keyboard-service/internal/protocol"
	"keyboard-service/internal/protocol/serial"
	"keyboard-service/internal/service"
	"keyboard-service/internal/utils"
)

func main() {
	port := flag.String("port", "", "Serial port of the keyboard (first supported keyboard if empty)")
	firmwareFile := flag.String("firmware", "", "Intel HEX firmware file")
	backupPath := flag.String("backup", "", "Where to write the settings backup (default directory from config)")
	configPath := flag.String("config", "", "Path to the configuration file")
	list := flag.Bool("list", false, "List attached keyboards and exit")
	flag.Parse()

	if *firmwareFile == "" && !*list {
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(*configPath, *port, *firmwareFile, *backupPath, *list); err != nil {
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
		os.Exit(1)
	}
}

func run(configPath, port, firmwareFile, backupPath string, list bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Logging.Output = "stderr"
	if cfg.Logging.Level == "info" {
		cfg.Logging.Level = "warn"
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.CloseLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serialConfig := protocol.DefaultSerialConfig()
	serialConfig.BaudRate = cfg.Serial.BaudRate
	serialConfig.ReadTimeout = cfg.Serial.ReadTimeout
	dialer := serial.NewDialer(serialConfig, logger)
	lister := serial.NewEnumerator(logger)
	newClient := func() *focus.Client {
		return focus.NewClient(dialer, lister, logger, focus.WithTimeout(cfg.Serial.RequestTimeout))
	}

	registry := hardware.NewRegistry(logger)
	hardware.RegisterDefaultDevices(registry, newClient, logger)

	serialScanner := serialscan.NewScanner(lister, logger)
	usbScanner := usb.NewScanner(logger, nil)
	scanners := discovery.NewScannerManager(logger)
	scanners.RegisterScanner(serialScanner)

	keyboards := service.NewKeyboardService(scanners, registry, newClient(), service.NewDeviceGate(), logger)
	found, err := keyboards.ListKeyboards(ctx)
	if err != nil {
		return err
	}

	if list {
		for _, k := range found {
			fmt.Printf("%s\t%s\t%s\n", k.Port, k.DisplayName, k.SerialNumber)
		}
		return nil
	}

	img, err := service.ValidateFirmware(firmwareFile)
	if err != nil {
		return err
	}

	if port == "" {
		if len(found) == 0 {
			return service.ErrKeyboardNotFound
		}
		port = found[0].Port
	}
	device, err := keyboards.Locate(ctx, port)
	if err != nil {
		return err
	}

	entry, _ := registry.Lookup(device.Descriptor)
	fmt.Printf("Updating %s on %s\n", entry.Info.DisplayName, port)
	fmt.Println(entry.UpdateInstructions("en"))

	store := backup.NewFileStore(cfg.Flash.BackupDir, logger)
	if backupPath != "" {
		store = store.WithChooser(backup.FixedPath(backupPath))
	}

	detector := discovery.NewDetector(usbScanner, serialScanner, registry, logger)
	orchestrator := flash.NewOrchestrator(newClient(), dialer, detector, registry, store, logger,
		flash.WithConfig(flash.Config{
			SettleDelay:      cfg.Flash.SettleDelay,
			RedetectAttempts: cfg.Flash.RedetectAttempts,
			RedetectDelay:    cfg.Flash.RedetectDelay,
		}),
	)

	bar := progressbar.NewOptions(img.TotalBytes(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Writing"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionOnCompletion(func() { fmt.Println() }),
	)

	session := flash.NewSession(port, device.Descriptor, firmwareFile, device.SerialNumber)
	session.Hooks = flash.Hooks{
		OnLog: func(entry string) {
			if session.State() != model.SessionStateFlashing {
				fmt.Println(entry)
			}
		},
		OnProgress: func(p model.TransferProgress) {
			_ = bar.Set(p.BytesWritten)
		},
	}

	runErr := orchestrator.Run(ctx, session)
	if path := session.ArtifactPath(); path != "" {
		fmt.Printf("Settings backup written to %s\n", path)
	}

	switch {
	case runErr == nil:
		fmt.Println("Firmware update completed")
		return nil
	case flash.IsTransferFailure(runErr):
		return fmt.Errorf("%w\nthe keyboard stays in bootloader mode, run the flasher again to retry", runErr)
	case errors.Is(runErr, context.Canceled):
		return errors.New("update cancelled")
	default:
		logger.Debug("Update failed", zap.Error(runErr))
		return runErr
	}
}
