package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stratrun/stratrun/internal/config"
)

func statusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running engine's health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := config.Load(rootFlags.configPath)
				if err != nil {
					return err
				}
				addr = cfg.HTTPAddr
			}
			if strings.HasPrefix(addr, ":") {
				addr = "localhost" + addr
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get("http://" + addr + "/healthz")
			if err != nil {
				return fmt.Errorf("engine unreachable at %s: %w", addr, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("engine at %s returned %s", addr, resp.Status)
			}

			var health struct {
				Status        string `json:"status"`
				State         string `json:"state"`
				UptimeSeconds int64  `json:"uptime_seconds"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
				return fmt.Errorf("decode health response: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "status: %s\nstate:  %s\nuptime: %s\n",
				health.Status, health.State, time.Duration(health.UptimeSeconds)*time.Second)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "engine HTTP address (defaults to the configured http_addr)")
	return cmd
}
