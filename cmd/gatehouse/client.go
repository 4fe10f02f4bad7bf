package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rsclarke/gatehouse/internal/client"
)

type clientConfig struct {
	password string
	apiURL   string
}

func addClientFlags(cmd *cobra.Command, cfg *clientConfig) {
	cmd.Flags().StringVar(&cfg.password, "password", os.Getenv("GATEHOUSE_ADMIN_PASSWORD"), "admin password")
	cmd.Flags().StringVar(&cfg.apiURL, "api-url", getEnv("GATEHOUSE_API_URL", "http://localhost:8081"), "admin API URL")
}

func (cfg *clientConfig) newClient() (*client.Client, error) {
	if cfg.apiURL == "" {
		return nil, fmt.Errorf("API URL required (use --api-url flag or GATEHOUSE_API_URL env var)")
	}
	if cfg.password == "" {
		return nil, fmt.Errorf("password required (use --password flag or GATEHOUSE_ADMIN_PASSWORD env var)")
	}
	return client.NewClient(cfg.apiURL, cfg.password), nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
