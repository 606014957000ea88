package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tgdscott/DoneCast-sub003/internal/config"
)

// ChargeOutcome is the ledger service's verdict on a charge attempt.
type ChargeOutcome string

const (
	OutcomeSuccess        ChargeOutcome = "success"
	OutcomeAlreadyCharged ChargeOutcome = "already-charged"
	OutcomeFailed         ChargeOutcome = "failed"
)

// Ledger is the credit-ledger collaborator contract.
type Ledger interface {
	Charge(ctx context.Context, episodeID string, amount float64, correlationID string) (ChargeOutcome, error)
}

// HTTPLedger talks to the ledger service over authenticated HTTP.
type HTTPLedger struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPLedger builds a ledger client from billing configuration.
func NewHTTPLedger(cfg config.Billing) *HTTPLedger {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPLedger{
		baseURL: strings.TrimRight(cfg.LedgerURL, "/"),
		token:   cfg.APIToken,
		client:  &http.Client{Timeout: timeout},
	}
}

type chargeRequest struct {
	EpisodeID     string  `json:"episode_id"`
	Amount        float64 `json:"amount"`
	CorrelationID string  `json:"correlation_id"`
}

type chargeResponse struct {
	Status string `json:"status"`
}

// Charge submits one idempotent charge to the ledger.
func (l *HTTPLedger) Charge(ctx context.Context, episodeID string, amount float64, correlationID string) (ChargeOutcome, error) {
	payload, err := json.Marshal(chargeRequest{
		EpisodeID:     episodeID,
		Amount:        amount,
		CorrelationID: correlationID,
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("encode charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/charges", bytes.NewReader(payload))
	if err != nil {
		return OutcomeFailed, fmt.Errorf("build charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("ledger request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict:
		return OutcomeAlreadyCharged, nil
	default:
		return OutcomeFailed, fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}

	var decoded chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return OutcomeFailed, fmt.Errorf("decode ledger response: %w", err)
	}
	switch decoded.Status {
	case "success", "":
		return OutcomeSuccess, nil
	case "already-charged":
		return OutcomeAlreadyCharged, nil
	default:
		return OutcomeFailed, fmt.Errorf("ledger rejected charge: %s", decoded.Status)
	}
}
