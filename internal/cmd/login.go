package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aetherbridge/AetherBridge/internal/auth"
	"github.com/aetherbridge/AetherBridge/internal/config"
	"github.com/aetherbridge/AetherBridge/internal/util"
)

// DoLogin runs the interactive OAuth flow and stores the new account.
// Repeated logins accumulate accounts in the pool.
func DoLogin(cfg *config.Config) {
	store, err := auth.NewTokenStore()
	if err != nil {
		log.Fatalf("failed to open account store: %v", err)
	}
	httpClient := util.SetProxy(cfg.ProxyURL, &http.Client{Timeout: 30 * time.Second})

	email, err := auth.Login(context.Background(), store, httpClient)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}
	fmt.Printf("Logged in as %s\n", email)
}

// ListAccounts prints the stored accounts.
func ListAccounts() {
	store, err := auth.NewTokenStore()
	if err != nil {
		log.Fatalf("failed to open account store: %v", err)
	}
	accounts, err := store.LoadAll()
	if err != nil {
		log.Fatalf("failed to read accounts: %v", err)
	}
	if len(accounts) == 0 {
		fmt.Println("No accounts stored. Run with --login to authenticate.")
		return
	}
	for i, account := range accounts {
		fmt.Printf("%d. %s (added %s, last used %s)\n",
			i+1, account.Email,
			account.AddedAt.Format("2006-01-02"),
			account.LastUsed.Format("2006-01-02 15:04"))
	}
}

// RemoveAccount deletes the account with the given email.
func RemoveAccount(email string) {
	store, err := auth.NewTokenStore()
	if err != nil {
		log.Fatalf("failed to open account store: %v", err)
	}
	removed, err := store.Remove(email)
	if err != nil {
		log.Fatalf("failed to remove account: %v", err)
	}
	if !removed {
		fmt.Printf("No account found for %s\n", email)
		os.Exit(1)
	}
	fmt.Printf("Removed %s\n", email)
}
