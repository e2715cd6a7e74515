package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/nurunet/nurubill/internal/config"
	"github.com/nurunet/nurubill/internal/infrastructure/daraja"
)

// Registers the C2B confirmation and validation URLs for the configured
// shortcode. Daraja keeps the registration per environment, so this runs
// once per deployment, not on every boot.
func main() {
	baseOverride := flag.String("base-url", "", "Public base URL override (default PUBLIC_BASE_URL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Daraja.ConsumerKey == "" || cfg.Daraja.ConsumerSecret == "" {
		fmt.Println("DARAJA_CONSUMER_KEY and DARAJA_CONSUMER_SECRET must be set to register URLs.")
		os.Exit(1)
	}

	base := cfg.Server.PublicBaseURL
	if *baseOverride != "" {
		base = *baseOverride
	}
	base = strings.TrimSuffix(base, "/")

	client := daraja.NewClient(daraja.Config{
		ConsumerKey:     cfg.Daraja.ConsumerKey,
		ConsumerSecret:  cfg.Daraja.ConsumerSecret,
		ShortCode:       cfg.Daraja.ShortCode,
		Passkey:         cfg.Daraja.Passkey,
		BaseURL:         cfg.Daraja.BaseURL,
		ConfirmationURL: base + "/webhooks/mpesa/confirmation",
		ValidationURL:   base + "/webhooks/mpesa/validation",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Printf("Registering C2B URLs for shortcode %s against %s\n", cfg.Daraja.ShortCode, cfg.Daraja.BaseURL)
	fmt.Printf("  confirmation: %s/webhooks/mpesa/confirmation\n", base)
	fmt.Printf("  validation:   %s/webhooks/mpesa/validation\n", base)

	resp, err := client.RegisterC2BURLs(ctx)
	if err != nil {
		log.Fatalf("Registration failed: %v", err)
	}

	fmt.Printf("✅ Registered: %s\n", resp.ResponseDescription)
}
