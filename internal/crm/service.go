// Package crm provides the Zoho CRM v3 record creation calls used by the bridge.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"zoho-crm-bridge/internal/token"
)

// DefaultAPIDomain is used when the session carries no api_domain.
const DefaultAPIDomain = "https://www.zohoapis.com"

// CRM modules.
const (
	ModuleContacts = "Contacts"
	ModuleDeals    = "Deals"
)

// Config holds the settings for NewService.
type Config struct {
	// APIDomain is the fallback API base URL.
	APIDomain string
	Defaults  Defaults
	// HTTPClient is used for CRM calls; http.DefaultClient when nil.
	HTTPClient *http.Client
}

// Service creates Contacts and Deals records.
type Service struct {
	httpClient *http.Client
	apiDomain  string
	defaults   Defaults
	logger     *zerolog.Logger
}

// NewService creates a CRM service.
func NewService(cfg Config, logger *zerolog.Logger) *Service {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	domain := cfg.APIDomain
	if domain == "" {
		domain = DefaultAPIDomain
	}

	return &Service{
		httpClient: client,
		apiDomain:  strings.TrimRight(domain, "/"),
		defaults:   cfg.Defaults,
		logger:     logger,
	}
}

// RequestError reports a failed record creation call.
type RequestError struct {
	Module     string
	StatusCode int             // zero for transport failures
	Body       json.RawMessage // provider body, when one was received
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to create %s record: Zoho CRM returned status %d", e.Module, e.StatusCode)
	}
	return fmt.Sprintf("failed to create %s record: %v", e.Module, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// insertRequest is the body of a v3 insert-records call.
type insertRequest struct {
	Data []any `json:"data"`
}

// insertResponse is the part of the v3 insert-records reply the bridge reads.
type insertResponse struct {
	Data []struct {
		Code    string `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
		Details struct {
			ID        string `json:"id"`
			CreatedBy struct {
				ID string `json:"id"`
			} `json:"Created_By"`
		} `json:"details"`
	} `json:"data"`
}

// insertResult is the created record as returned by insert.
type insertResult struct {
	ID      string
	OwnerID string
	Raw     json.RawMessage
}

// insert posts a single record to a module and parses the created record id.
func (s *Service) insert(ctx context.Context, lease token.Lease, module string, record any) (*insertResult, error) {
	body, err := json.Marshal(insertRequest{Data: []any{record}})
	if err != nil {
		return nil, &RequestError{Module: module, Err: fmt.Errorf("failed to encode record: %w", err)}
	}

	url := s.recordsURL(lease, module)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &RequestError{Module: module, Err: err}
	}
	req.Header.Set("Authorization", lease.Header())
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error().Err(err).Str("module", module).Msg("zoho crm request failed")
		return nil, &RequestError{Module: module, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Module: module, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Error().Int("status", resp.StatusCode).Str("module", module).Msg("zoho crm rejected record")
		return nil, &RequestError{
			Module:     module,
			StatusCode: resp.StatusCode,
			Body:       jsonOrNil(raw),
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var parsed insertResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &RequestError{Module: module, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if len(parsed.Data) == 0 {
		return nil, &RequestError{Module: module, Body: raw, Err: fmt.Errorf("response contains no records")}
	}

	first := parsed.Data[0]
	if strings.EqualFold(first.Status, "error") {
		return nil, &RequestError{Module: module, Body: raw, Err: fmt.Errorf("%s: %s", first.Code, first.Message)}
	}
	if first.Details.ID == "" {
		return nil, &RequestError{Module: module, Body: raw, Err: fmt.Errorf("response is missing the record id")}
	}

	s.logger.Info().Str("module", module).Str("id", first.Details.ID).Msg("zoho crm record created")

	return &insertResult{
		ID:      first.Details.ID,
		OwnerID: first.Details.CreatedBy.ID,
		Raw:     raw,
	}, nil
}

func (s *Service) recordsURL(lease token.Lease, module string) string {
	domain := strings.TrimRight(lease.APIDomain, "/")
	if domain == "" {
		domain = s.apiDomain
	}
	return domain + "/crm/v3/" + module
}

func jsonOrNil(raw []byte) json.RawMessage {
	if json.Valid(raw) {
		return raw
	}
	return nil
}
