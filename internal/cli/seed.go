package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	"github.com/helixsec/fusion/internal/models"
)

var (
	seedURL     string
	seedCount   int
	seedTenants int
	seedSpread  time.Duration
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Send synthetic alerts to a running fusiond",
	Long: `Generate realistic security alerts and post them to the ingestion API.

Alerts are spread across tenants and alert types so correlation groups
form naturally. Useful for development and load testing.

Examples:
  fusiond seed --count 200
  fusiond seed --url http://localhost:8097 --tenants 5 --spread 10m`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSeed()
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedURL, "url", "http://localhost:8097", "fusiond base URL")
	seedCmd.Flags().IntVar(&seedCount, "count", 100, "number of alerts to send")
	seedCmd.Flags().IntVar(&seedTenants, "tenants", 3, "number of distinct tenants")
	seedCmd.Flags().DurationVar(&seedSpread, "spread", 5*time.Minute, "timestamp spread across alerts")
	rootCmd.AddCommand(seedCmd)
}

type alertTemplate struct {
	alertType     string
	source        string
	providerField string
	provider      string
	reasonField   string
	reasons       []string
}

// Field names follow each source system's own payload convention so the
// per-source mappings resolve them, same as real feeds would.
var alertTemplates = []alertTemplate{
	{"mfa_failure", "entra", "appDisplayName", "Entra ID", "failureReason", []string{"timeout", "denied", "token_expired"}},
	{"mfa_failure", "okta", "provider", "Okta", "reason", []string{"timeout", "denied"}},
	{"login_failure", "okta", "provider", "Okta", "reason", []string{"invalid_credentials", "account_locked"}},
	{"malware_detected", "microsoft_defender", "EventSource", "Defender", "FailureReason", []string{"quarantined", "blocked"}},
	{"phishing", "proofpoint", "sender_domain", "badsender.example", "quarantineRule", []string{"url_click", "attachment"}},
}

func runSeed() error {
	client := &http.Client{Timeout: 10 * time.Second}
	now := time.Now().UTC()

	tenants := make([]string, seedTenants)
	for i := range tenants {
		tenants[i] = fmt.Sprintf("tenant-%s", gofakeit.LetterN(6))
	}

	var sent, failed, escalated, duplicates int
	for i := 0; i < seedCount; i++ {
		tpl := alertTemplates[rand.Intn(len(alertTemplates))]
		ts := now.Add(-time.Duration(rand.Int63n(int64(seedSpread))))

		req := models.IngestRequest{
			TenantID:      tenants[rand.Intn(len(tenants))],
			AlertType:     tpl.alertType,
			SourceSystem:  tpl.source,
			SourceAlertID: gofakeit.UUID(),
			TimestampUTC:  ts.Format(time.RFC3339),
			Severity:      gofakeit.RandomString([]string{"low", "medium", "high", "critical"}),
			RawFields: map[string]any{
				tpl.providerField: tpl.provider,
				tpl.reasonField:   tpl.reasons[rand.Intn(len(tpl.reasons))],
				"user":            gofakeit.Username(),
				"source_ip":       gofakeit.IPv4Address(),
				"user_agent":      gofakeit.UserAgent(),
			},
		}

		resp, err := postAlert(client, seedURL+"/api/v1/alerts", &req)
		if err != nil {
			failed++
			continue
		}
		sent++
		if resp.Duplicate {
			duplicates++
		}
		if resp.Escalated {
			escalated++
		}
	}

	fmt.Printf("Sent %d alerts (%d failed, %d duplicates, %d escalated)\n",
		sent, failed, duplicates, escalated)
	return nil
}

func postAlert(client *http.Client, url string, req *models.IngestRequest) (*models.IngestResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpResp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("server returned %d", httpResp.StatusCode)
	}

	var resp models.IngestResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
