package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"gopkg.in/ini.v1"

	"sip2ha/internal/api"
	"sip2ha/internal/call"
	"sip2ha/internal/hass"
	"sip2ha/internal/logging"
	"sip2ha/internal/settings"
	"sip2ha/internal/signaling"
)

func main() {
	configPath := flag.String("config", "settings.ini", "path to the settings file")
	flag.Parse()

	cfg, err := ini.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load settings: %v\n", err)
		os.Exit(1)
	}

	s, err := settings.Load(cfg)
	if err != nil {
		fmt.Printf("failed to parse settings: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(cfg); err != nil {
		fmt.Printf("failed to init logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Close()
	logging.Core.Info("settings loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport := signaling.NewClient(signaling.Credentials{
		Server:       s.SIPServer(),
		Port:         s.SIPPort(),
		Domain:       s.SIPDomain(),
		Username:     s.SIPUsername(),
		Password:     s.SIPPassword(),
		Protocol:     s.SIPProtocol(),
		RelayServers: s.RelayServers(),
	}, logging.SIP)

	orch := call.New(call.Config{
		RingTimeout:         s.RingTimeout(),
		AutoAnswer:          s.AutoAnswer(),
		AutoAnswerDelay:     s.AutoAnswerDelay(),
		RegisterAttempts:    s.RegisterAttempts(),
		RegisterInterval:    s.RegisterInterval(),
		RegisterExponential: s.RegisterExponential(),
	}, transport, logging.Core)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		orch.Run(ctx)
	}()

	if s.HassURL() != "" {
		bridge := hass.NewBridge(s.HassURL(), s.HassToken(), s.HassPrefix(), logging.Hass)
		sub := orch.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer orch.Unsubscribe(sub)
			bridge.Run(ctx, sub)
		}()
	}

	if err := orch.Connect(); err != nil {
		logging.Core.Fatalf("failed to start registration: %v", err)
	}

	server := api.NewServer(s.APIBind(), orch, logging.API)
	if err := server.Run(ctx); err != nil {
		logging.Core.Errorf("API server failed: %v", err)
	}

	stop()
	wg.Wait()
	_ = transport.Close()
	logging.Core.Info("performing a graceful shutdown...")
}
