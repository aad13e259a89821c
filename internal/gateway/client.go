// Package gateway talks to the remote registration gateway. The gateway is
// asynchronous: a submission returns identifiers immediately and the outcome
// is fetched later by result id.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/zulandar/netmaker/internal/config"
	"github.com/zulandar/netmaker/internal/models"
)

// ErrNoResult is returned when the gateway has nothing for a result id.
var ErrNoResult = errors.New("gateway: no result")

// Client submits registration requests and fetches their results.
type Client interface {
	Submit(ctx context.Context, kind models.Kind, req SubmitRequest) (*RequestResult, error)
	GetResult(ctx context.Context, kind models.Kind, resultID string) (*ResultRegistration, error)
	Close() error
}

// SubmitRequest carries everything a submission of any kind may need.
// Fields irrelevant to a kind are ignored.
type SubmitRequest struct {
	Files                  []string
	MakePubliclyAccessible bool
	CollectionActTxID      string
	OpenAPIGroupID         string
	NFTDetails             []byte // JSON document, nft only
	Collection             *CollectionRequest
}

// CollectionRequest describes a collection to register.
type CollectionRequest struct {
	ItemType                     string   `json:"item_type"`
	CollectionName               string   `json:"collection_name"`
	MaxCollectionEntries         int      `json:"max_collection_entries"`
	CollectionItemCopyCount      int      `json:"collection_item_copy_count"`
	AuthorizedContributors       []string `json:"list_of_pastelids_of_authorized_contributors"`
	MaxPermittedOpenNSFWScore    float64  `json:"max_permitted_open_nsfw_score"`
	MinSimilarityScoreFirstEntry float64  `json:"minimum_similarity_score_to_first_entry_in_collection"`
	NoOfDaysToFinalize           int      `json:"no_of_days_to_finalize_collection"`
	Royalty                      float64  `json:"royalty"`
	Green                        bool     `json:"green"`
}

// RequestResult is the gateway's immediate answer to a submission.
type RequestResult struct {
	RequestID     string               `json:"request_id"`
	RequestStatus string               `json:"request_status"`
	Results       []ResultRegistration `json:"results"`
}

// ResultRegistration is the state of one registration on the gateway.
type ResultRegistration struct {
	ResultID         string `json:"result_id"`
	ResultStatus     string `json:"result_status"`
	RegistrationTxID string `json:"registration_ticket_txid"`
	ActivationTxID   string `json:"activation_ticket_txid"`
}

// NormalizeStatus maps a gateway status onto the local vocabulary.
// Anything unrecognised is treated as still pending.
func NormalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "succeeded", "done":
		return models.StatusSuccess
	case "failure", "failed", "error":
		return models.StatusFailure
	default:
		return models.StatusPending
	}
}

// New builds the client selected by the gateway configuration.
func New(network string, c config.GatewayConfig) (Client, error) {
	switch c.Mode {
	case "simulate":
		return NewSimulator(c.Simulate, rand.New(rand.NewSource(time.Now().UnixNano()))), nil
	case "http", "":
		base := c.BaseURL
		if base == "" {
			var err error
			if base, err = BaseURL(network); err != nil {
				return nil, err
			}
		}
		return NewHTTPClient(base, c.APIKey, time.Duration(c.TimeoutSec)*time.Second), nil
	default:
		return nil, fmt.Errorf("gateway: unknown mode %q", c.Mode)
	}
}
