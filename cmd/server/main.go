package main

import (
	"flag"
	"os"
	"path"

	log "github.com/sirupsen/logrus"

	"github.com/aetherbridge/AetherBridge/internal/cmd"
	"github.com/aetherbridge/AetherBridge/internal/config"
	"github.com/aetherbridge/AetherBridge/internal/logging"
)

func main() {
	var login bool
	var listAccounts bool
	var removeAccount string
	var projectID string
	var configPath string

	flag.BoolVar(&login, "login", false, "Login Google Account")
	flag.BoolVar(&listAccounts, "list-accounts", false, "List stored accounts")
	flag.StringVar(&removeAccount, "remove-account", "", "Remove the account with this email")
	flag.StringVar(&projectID, "project_id", "", "Project ID (comma-separated pool)")
	flag.StringVar(&configPath, "config", "", "Configure File Path")

	flag.Parse()

	logging.SetupBaseLogger()

	if configPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}
		configPath = path.Join(wd, "config.yaml")
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if projectID != "" {
		cfg.ProjectID = projectID
	}

	logging.SetDebug(cfg.Debug)
	if errLog := logging.ConfigureLogOutput(cfg.LoggingToFile); errLog != nil {
		log.Fatalf("failed to configure logging: %v", errLog)
	}

	switch {
	case login:
		cmd.DoLogin(cfg)
	case listAccounts:
		cmd.ListAccounts()
	case removeAccount != "":
		cmd.RemoveAccount(removeAccount)
	default:
		cmd.StartService(cfg)
	}
}
