package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Soochol/WF-EOL-TESTER-sub007/config"
	"github.com/Soochol/WF-EOL-TESTER-sub007/driver"
	"github.com/Soochol/WF-EOL-TESTER-sub007/internal/server"
	"github.com/Soochol/WF-EOL-TESTER-sub007/lifecycle"
	"github.com/Soochol/WF-EOL-TESTER-sub007/orchestrator"
	"github.com/Soochol/WF-EOL-TESTER-sub007/safety"
	"github.com/Soochol/WF-EOL-TESTER-sub007/transport"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config yaml; defaults apply when empty")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log := newLogger(cfg.Log)
	root := log.WithField("app", "eoltester")
	if err := run(cfg, root); err != nil {
		root.WithError(err).Fatal("exited")
	}
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(lvl)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

func run(cfg *config.Config, log *logrus.Entry) error {
	hw := cfg.Hardware

	mcu := driver.NewMCU(driver.MCUConfig{
		Name:          "mcu",
		Timeout:       hw.MCU.Timeout(),
		StatusTimeout: hw.MCU.StatusTimeout(),
	}, transport.NewSerial(transport.SerialConfig{
		Name:    "mcu",
		Port:    hw.MCU.Port,
		Baud:    hw.MCU.Baud,
		Timeout: hw.MCU.Timeout(),
	}, log), log)

	power := driver.NewPower(driver.PowerConfig{Name: "power"},
		transport.NewTCP(transport.TCPConfig{
			Name:    "power",
			Host:    hw.Power.Host,
			Port:    hw.Power.Port,
			Timeout: hw.Power.Timeout(),
		}, log), log)

	loadcell := driver.NewLoadCell(driver.LoadCellConfig{Name: "loadcell"},
		transport.NewSerial(transport.SerialConfig{
			Name:    "loadcell",
			Port:    hw.LoadCell.Port,
			Baud:    hw.LoadCell.Baud,
			Timeout: hw.LoadCell.Timeout(),
		}, log), log)

	manager := lifecycle.NewManager(map[string]lifecycle.Factory{
		"mcu":      func() (lifecycle.Device, error) { return mcu, nil },
		"power":    func() (lifecycle.Device, error) { return power, nil },
		"loadcell": func() (lifecycle.Device, error) { return loadcell, nil },
	}, log)

	var mesClient *driver.MESClient
	if hw.MES.Enabled {
		mesClient = driver.NewMESClient(driver.MESConfig{
			Name:       "mes",
			RetryCount: hw.MES.RetryCount,
			RetryDelay: hw.MES.RetryDelay(),
		}, transport.NewTCP(transport.TCPConfig{
			Name:    "mes",
			Host:    hw.MES.Host,
			Port:    hw.MES.Port,
			Timeout: hw.MES.Timeout(),
		}, log), log)
		mes := mesClient
		manager.Register("mes", func() (lifecycle.Device, error) { return mes, nil })
	}

	estop := safety.NewEmergencyStop(log)
	estop.Register("power", power)
	estop.Register("mcu", mcu)
	estop.Register("loadcell", loadcell)

	deps := orchestrator.Deps{
		MCU:   mcu,
		Power: power,
		Connect: func(ctx context.Context) error {
			names := []string{"power", "mcu"}
			if hw.MES.Enabled {
				names = append(names, "mes")
			}
			for _, name := range names {
				if _, err := manager.Get(ctx, name); err != nil {
					return err
				}
			}
			return nil
		},
		Release:     manager.DisconnectAll,
		EStop:       estop,
		PowerSource: power,
	}
	if mesClient != nil {
		deps.MES = mesClient
	}

	results := server.NewResultStore()
	deps.Results = results
	hub := server.NewWSHub()
	deps.Events = hub

	orch := orchestrator.New(cfg.Profile, deps, log)
	srv := server.New(orch, results, hub, log)

	in := buttonInput(hw.DigitalInput)
	buttons := safety.NewDualButtonMonitor(safety.DualButtonConfig{
		LeftChannel:  hw.DigitalInput.LeftButtonChannel,
		RightChannel: hw.DigitalInput.RightButtonChannel,
		PollInterval: hw.DigitalInput.PollInterval(),
		Debounce:     hw.DigitalInput.Debounce(),
	}, in, orch.IsRunning, func() {
		serial := "LOCAL-" + time.Now().Format("20060102-150405")
		if _, err := orch.Start(serial); err != nil {
			log.WithError(err).Warn("button start rejected")
		}
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	buttons.Start(ctx)
	defer buttons.Stop()

	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Handler()}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.Server.Addr).Info("listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		orch.Cancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		manager.DisconnectAll()
		return nil
	})
	return g.Wait()
}

// buttonInput builds the digital input backend. Only the mock backend ships
// in-tree; real acquisition boards plug in behind driver.DigitalInput.
func buttonInput(cfg config.DigitalInputConfig) driver.DigitalInput {
	channels := cfg.LeftButtonChannel
	if cfg.RightButtonChannel > channels {
		channels = cfg.RightButtonChannel
	}
	return driver.NewMockInput(channels + 1)
}
