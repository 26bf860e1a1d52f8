package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-queue/internal/appointment"
	"github.com/hackgods/clinic-queue/internal/config"
	"github.com/hackgods/clinic-queue/internal/db"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var apiURL string

	root := &cobra.Command{
		Use:          "queuectl",
		Short:        "Operate the clinic queue service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiURL, "api", envOr("QUEUECTL_API", "http://localhost:8080"), "api-server base URL")

	client := func() *apiClient { return newAPIClient(apiURL) }

	root.AddCommand(sessionCmd(client))
	root.AddCommand(queueCmd(client))
	root.AddCommand(migrateCmd())
	return root
}

func sessionCmd(client func() *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and control the messaging session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show session state and notification counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printCall(cmd, client(), http.MethodGet, "/messaging/status")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "connect",
		Short: "Start connecting, pairing if no session is stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printCall(cmd, client(), http.MethodPost, "/messaging/connect")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Log the session out and forget its credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printCall(cmd, client(), http.MethodPost, "/messaging/logout")
		},
	})

	pair := &cobra.Command{
		Use:   "pair",
		Short: "Show the outstanding pairing code as a QR",
		RunE: func(cmd *cobra.Command, args []string) error {
			pngPath, _ := cmd.Flags().GetString("png")
			ctx := cmd.Context()

			if pngPath != "" {
				body, _, err := client().do(ctx, http.MethodGet, "/messaging/pairing", nil)
				if err != nil {
					return err
				}
				if err := os.WriteFile(pngPath, body, 0o600); err != nil {
					return fmt.Errorf("write %s: %w", pngPath, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pairing QR written to %s\n", pngPath)
				return nil
			}

			var resp struct {
				Code     string    `json:"code"`
				IssuedAt time.Time `json:"issued_at"`
				QR       string    `json:"qr"`
			}
			if err := client().getJSON(ctx, "/messaging/pairing", url.Values{"format": {"text"}}, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.QR)
			fmt.Fprintf(cmd.OutOrStdout(), "issued %s ago, scan it from the linked devices screen\n", time.Since(resp.IssuedAt).Round(time.Second))
			return nil
		},
	}
	pair.Flags().String("png", "", "write the QR as a PNG file instead of printing it")
	cmd.AddCommand(pair)

	return cmd
}

func queueCmd(client func() *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Look up live queue positions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "appointment <id>",
		Short: "Show one appointment's position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(args[0]); err != nil {
				return fmt.Errorf("appointment id must be a UUID: %w", err)
			}
			return printCall(cmd, client(), http.MethodGet, "/appointments/"+args[0]+"/queue")
		},
	})

	doctor := &cobra.Command{
		Use:   "doctor <id>",
		Short: "Show a doctor's active queue for a day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(args[0]); err != nil {
				return fmt.Errorf("doctor id must be a UUID: %w", err)
			}
			date, _ := cmd.Flags().GetString("date")
			if _, err := appointment.ParseDay(date); err != nil {
				return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
			}

			body, _, err := client().do(cmd.Context(), http.MethodGet, "/doctors/"+args[0]+"/queue", url.Values{"date": {date}})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
	doctor.Flags().String("date", time.Now().Format(appointment.DateLayout), "day to show")
	cmd.AddCommand(doctor)

	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func printCall(cmd *cobra.Command, c *apiClient, method, path string) error {
	body, _, err := c.do(cmd.Context(), method, path, nil)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), body)
}

func printJSON(w io.Writer, body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		_, err = w.Write(body)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
