package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tripwise.org/internal/auth"
	"tripwise.org/internal/config"
)

// Demo employees created by the SQL seed and the in-memory backend.
const (
	demoOrg      = "01J0DEMO0RG000000000000000"
	demoManager  = "01J0DEMOMGR000000000000000"
	demoEmployee = "01J0DEMOEMP000000000000000"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cfg, err := config.Load()
	if err != nil {
		fail("config: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(cfg.AuthSecret)
	if err != nil {
		fail("token issuer: %v", err)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "token":
		fs := pflag.NewFlagSet("token", pflag.ExitOnError)
		ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
		_ = fs.Parse(args)
		if fs.NArg() != 2 {
			usage()
		}
		tok, err := tokens.Generate(fs.Arg(0), fs.Arg(1), *ttl)
		if err != nil {
			fail("generate: %v", err)
		}
		fmt.Println(tok)
	case "smoke":
		fs := pflag.NewFlagSet("smoke", pflag.ExitOnError)
		api := fs.String("api", envOr("TRIPWISE_API_URL", "http://localhost:8080"), "HTTP API base URL")
		grpcAddr := fs.String("grpc", cfg.GRPCAddr, "gRPC health address")
		_ = fs.Parse(args)
		if err := runSmoke(strings.TrimRight(*api, "/"), *grpcAddr, tokens); err != nil {
			fail("smoke: %v", err)
		}
		fmt.Println("smoke test passed")
	default:
		usage()
	}
}

// runSmoke drives a booking through submit and manager approval.
func runSmoke(baseURL, grpcAddr string, tokens *auth.TokenIssuer) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := checkHealth(ctx, grpcAddr); err != nil {
		return err
	}
	c := &client{base: baseURL, http: &http.Client{Timeout: 5 * time.Second}, tokens: tokens}

	var draft struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, demoEmployee, http.MethodPost, "/v1/bookings", map[string]any{
		"traveler_ids": []string{demoEmployee},
		"trip_name":    "Smoke test",
		"destination":  "Berlin",
		"travel_class": "economy",
		"total_amount": 1500,
		"start_date":   time.Now().UTC().AddDate(0, 0, 30).Format("2006-01-02"),
	}, &draft); err != nil {
		return fmt.Errorf("create booking: %w", err)
	}

	var submitted struct {
		Booking struct {
			Status string `json:"status"`
		} `json:"booking"`
	}
	if err := c.call(ctx, demoEmployee, http.MethodPost, "/v1/bookings/"+draft.ID+"/submit", nil, &submitted); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if submitted.Booking.Status != "pending_approval" {
		return fmt.Errorf("expected pending_approval after submit, got %s", submitted.Booking.Status)
	}

	var inbox struct {
		Approvals []struct {
			ID        string `json:"id"`
			BookingID string `json:"booking_id"`
		} `json:"approvals"`
	}
	if err := c.call(ctx, demoManager, http.MethodGet, "/v1/approvals/pending", nil, &inbox); err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	approvalID := ""
	for _, a := range inbox.Approvals {
		if a.BookingID == draft.ID {
			approvalID = a.ID
		}
	}
	if approvalID == "" {
		return fmt.Errorf("approval for %s not in manager inbox", draft.ID)
	}

	var approved struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, demoManager, http.MethodPost, "/v1/approvals/"+approvalID+"/approve", map[string]any{"reason": "smoke"}, &approved); err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	if approved.Status != "approved" {
		return fmt.Errorf("expected approved, got %s", approved.Status)
	}
	return nil
}

func checkHealth(ctx context.Context, addr string) error {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("grpc health: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc health: %s", resp.GetStatus())
	}
	return nil
}

type client struct {
	base   string
	http   *http.Client
	tokens *auth.TokenIssuer
}

func (c *client) call(ctx context.Context, as, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return err
	}
	tok, err := c.tokens.Generate(as, demoOrg, time.Minute)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n  %[1]s token [--ttl 12h] <employee-id> <organization-id>\n  %[1]s smoke [--api URL] [--grpc ADDR]\n", os.Args[0])
	os.Exit(1)
}
