package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/gateway"
	"github.com/soyeahso/concierge/internal/version"
	"github.com/spf13/cobra"
)

const statusProbeTimeout = 2 * time.Second

func newStatusCmd() *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and the running gateway's health",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Concierge %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}
			printConfigSummary(out, cfg)

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}

			if !probe {
				return nil
			}
			fmt.Fprintln(out)
			h, err := probeGateway(cmd.Context(), cfg.Gateway)
			if err != nil {
				fmt.Fprintf(out, "Running: no (%v)\n", err)
				return nil
			}
			printHealth(out, h)
			return nil
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", true, "query the local gateway's /api/status")
	return cmd
}

func printConfigSummary(w io.Writer, cfg config.Config) {
	fmt.Fprintf(w, "Gateway: port=%d bind=%s tls=%v\n", cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.TLS.Enabled)

	model := cfg.Generator.Model
	if model == "" {
		model = "(provider default)"
	}
	fmt.Fprintf(w, "Model:   provider=%s model=%s breaker=%v\n", cfg.Generator.Provider, model, cfg.Generator.Breaker.IsEnabled())

	catalog := paths.CatalogPath(cfg.Catalog)
	fmt.Fprintf(w, "Catalog: %s (ttl %s)\n", catalog, cfg.Context.TTL())

	storeDesc := cfg.Store.Driver
	if cfg.Store.Driver == "sqlite" {
		storeDesc += " " + paths.DatabasePath(cfg.Store)
	}
	fmt.Fprintf(w, "Store:   %s\n", storeDesc)

	if cfg.RateLimit.IsEnabled() {
		fmt.Fprintf(w, "Limits:  %d requests / %s (%s)\n", cfg.RateLimit.MaxRequests, cfg.RateLimit.Window(), cfg.RateLimit.Backend)
	} else {
		fmt.Fprintln(w, "Limits:  disabled")
	}
}

// probeGateway asks a gateway on this host for its detailed health.
func probeGateway(ctx context.Context, gw config.GatewayConfig) (gateway.HealthResponse, error) {
	var h gateway.HealthResponse

	scheme := "http"
	if gw.TLS.Enabled {
		scheme = "https"
	}
	host := "127.0.0.1"
	if gw.Bind == "custom" && gw.CustomBindHost != "" && gw.CustomBindHost != "0.0.0.0" {
		host = gw.CustomBindHost
	}
	url := scheme + "://" + net.JoinHostPort(host, strconv.Itoa(gw.Port)) + "/api/status"

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return h, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return h, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return h, fmt.Errorf("gateway returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("decoding status: %w", err)
	}
	return h, nil
}

func printHealth(w io.Writer, h gateway.HealthResponse) {
	fmt.Fprintf(w, "Running: %s, version %s, up %s, %d WebSocket client(s)\n",
		h.Status, h.Version, time.Duration(h.UptimeSeconds)*time.Second, h.Clients)
	if len(h.Checks) > 0 {
		names := make([]string, 0, len(h.Checks))
		for name := range h.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "Check:   %s %s\n", name, h.Checks[name])
		}
	}
	if h.Service == nil {
		return
	}
	s := h.Service
	fmt.Fprintf(w, "Chat:    %d session(s), %d in flight, generator %s\n", s.Sessions, s.InFlight, s.Generator)
	if s.Cache.HasCache && s.Cache.LastUpdate != nil {
		state := "fresh"
		if s.Cache.IsExpired {
			state = "expired"
		}
		fmt.Fprintf(w, "Context: %s, %.1f min old\n", state, s.Cache.AgeMinutes)
	} else {
		fmt.Fprintln(w, "Context: not loaded")
	}
	fmt.Fprintf(w, "Latency: %d recent sample(s)\n", s.LatencySamples)
}
