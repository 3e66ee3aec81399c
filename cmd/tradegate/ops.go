package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/moltlabs/tradegate/internal/config"
	"github.com/moltlabs/tradegate/internal/risk"
)

// Client commands talk to a running instance over its HTTP API. The shared
// secret comes from the config file (or TRADEGATE_WEBHOOK_SECRET), same as
// the server reads it.

func pauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Stop admitting new signals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postOp("/pause")
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume admitting signals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postOp("/resume")
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway status",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := get("/status")
			if err != nil {
				return err
			}
			var st struct {
				PendingIntents  int     `json:"pending_intents"`
				Paused          bool    `json:"paused"`
				BrokerConnected bool    `json:"broker_connected"`
				RegimeBand      string  `json:"regime_band"`
				RegimeScore     float64 `json:"regime_score"`
				UptimeSeconds   int     `json:"uptime_seconds"`
			}
			if err := json.Unmarshal(body, &st); err != nil {
				return err
			}
			state := "running"
			if st.Paused {
				state = "paused"
			}
			fmt.Printf("state:    %s\n", state)
			fmt.Printf("pending:  %d\n", st.PendingIntents)
			fmt.Printf("broker:   connected=%v\n", st.BrokerConnected)
			fmt.Printf("regime:   %s (score %.0f)\n", st.RegimeBand, st.RegimeScore)
			fmt.Printf("uptime:   %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
			return nil
		},
	}
}

func pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List intents awaiting a decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := get("/pending")
			if err != nil {
				return err
			}
			var resp struct {
				Pending []struct {
					ID          string    `json:"id"`
					TokenDigest string    `json:"token_digest"`
					Symbol      string    `json:"symbol"`
					Side        string    `json:"side"`
					Quantity    int       `json:"quantity"`
					Warnings    []string  `json:"warnings"`
					CreatedAt   time.Time `json:"created_at"`
				} `json:"pending"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return err
			}
			if len(resp.Pending) == 0 {
				fmt.Println("no pending intents")
				return nil
			}
			for _, p := range resp.Pending {
				fmt.Printf("%s  %-6s %-5s qty=%-4d age=%s token=%s",
					p.ID, p.Symbol, p.Side, p.Quantity,
					time.Since(p.CreatedAt).Round(time.Second), p.TokenDigest)
				if len(p.Warnings) > 0 {
					fmt.Printf("  [%s]", strings.Join(p.Warnings, "; "))
				}
				fmt.Println()
			}
			return nil
		},
	}
}

// killCmd flips the kill-switch sentinel directly on disk. It works without
// a running server, which is the point of a kill switch.
func killCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Manage the kill switch",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "engage",
			Short: "Halt all admissions immediately",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				if err := risk.NewKillSwitch(cfg.KillSwitchFile).Engage(); err != nil {
					return err
				}
				fmt.Println("kill switch engaged")
				return nil
			},
		},
		&cobra.Command{
			Use:   "release",
			Short: "Release the kill switch",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				if err := risk.NewKillSwitch(cfg.KillSwitchFile).Release(); err != nil {
					return err
				}
				fmt.Println("kill switch released")
				return nil
			},
		},
	)
	return cmd
}

func secret() string {
	if v := os.Getenv("TRADEGATE_WEBHOOK_SECRET"); v != "" {
		return v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return ""
	}
	return cfg.Server.WebhookSecret
}

func postOp(path string) error {
	req, err := http.NewRequest(http.MethodPost, serverAddr+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Tradegate-Secret", secret())
	body, err := do(req)
	if err != nil {
		return err
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return err
	}
	fmt.Println(resp.Status)
	return nil
}

func get(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, serverAddr+path, nil)
	if err != nil {
		return nil, err
	}
	return do(req)
}

func do(req *http.Request) ([]byte, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}
