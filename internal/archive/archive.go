// Package archive writes terminal group records to OpenSearch for long-term
// audit and pattern learning. Archiving is best-effort; an archive outage
// never blocks routing, the durable audit row lives in Postgres.
package archive

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/helixsec/fusion/internal/config"
	"github.com/helixsec/fusion/internal/models"
)

// Archiver records a routed group with its evidence.
type Archiver interface {
	ArchiveGroup(ctx context.Context, record *models.RoutedGroup, evidence *models.AggregatedEvidence) error
}

// Document is the archived shape of one terminal group.
type Document struct {
	models.RoutedGroup
	Evidence []models.EnrichmentResult `json:"evidence,omitempty"`
}

// Store is the OpenSearch-backed archiver.
type Store struct {
	client *opensearch.Client
	index  string
}

// NewStore connects to OpenSearch and verifies the connection.
func NewStore(cfg config.ArchiveConfig) (*Store, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.Insecure,
			},
		},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	info, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return nil, fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	return &Store{client: client, index: cfg.Index}, nil
}

// ArchiveGroup indexes one terminal group, keyed by group ID so replays
// overwrite instead of duplicating.
func (s *Store) ArchiveGroup(ctx context.Context, record *models.RoutedGroup, evidence *models.AggregatedEvidence) error {
	doc := Document{RoutedGroup: *record}
	if evidence != nil {
		doc.Evidence = evidence.Results
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal archive document: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      s.index,
		DocumentID: record.GroupID,
		Body:       bytes.NewReader(data),
	}
	resp, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("index archive document: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("opensearch index returned %s", resp.Status())
	}
	return nil
}

// NoOp is used when archiving is disabled.
type NoOp struct{}

func (NoOp) ArchiveGroup(context.Context, *models.RoutedGroup, *models.AggregatedEvidence) error {
	return nil
}
