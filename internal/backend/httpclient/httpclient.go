// Package httpclient implements the backend contracts over JSON/HTTP with a
// bearer session token.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/backend"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
)

// TokenSource supplies the current session token for outbound requests.
type TokenSource func() string

// Client implements backend.AuthorityClient, backend.PricingClient,
// backend.TradeInClient and backend.SettlementClient against one base URL.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenSource
}

func New(baseURL string, token TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 12 * time.Second},
		token:   token,
	}
}

func (c *Client) GetMyTier(ctx context.Context) (domain.TierProfile, error) {
	var profile domain.TierProfile
	err := c.do(ctx, http.MethodGet, "/api/v1/discount-authority/my-tier", nil, &profile)
	return profile, err
}

func (c *Client) InitializeBudget(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/discount-authority/budget/initialize", struct{}{}, nil)
}

func (c *Client) ValidateDiscount(ctx context.Context, productID string, pct decimal.Decimal) (domain.DiscountValidation, error) {
	req := map[string]any{
		"product_id":   productID,
		"discount_pct": pct,
	}
	var validation domain.DiscountValidation
	err := c.do(ctx, http.MethodPost, "/api/v1/discount-authority/validate", req, &validation)
	return validation, err
}

func (c *Client) ApplyDiscount(ctx context.Context, record domain.AppliedDiscountRecord) error {
	return c.do(ctx, http.MethodPost, "/api/v1/discount-authority/discounts", record, nil)
}

func (c *Client) SubmitEscalation(ctx context.Context, req domain.EscalationRequest) (domain.Escalation, error) {
	var created domain.Escalation
	err := c.do(ctx, http.MethodPost, "/api/v1/escalations", req, &created)
	return created, err
}

func (c *Client) GetMyEscalations(ctx context.Context) ([]domain.Escalation, error) {
	var resp struct {
		Escalations []domain.Escalation `json:"escalations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/escalations/mine", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Escalations, nil
}

func (c *Client) GetPendingEscalations(ctx context.Context) ([]domain.Escalation, error) {
	var resp struct {
		Escalations []domain.Escalation `json:"escalations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/escalations/pending", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Escalations, nil
}

func (c *Client) ApproveEscalation(ctx context.Context, id string, notes string) error {
	req := map[string]string{"notes": notes}
	return c.do(ctx, http.MethodPost, "/api/v1/escalations/"+url.PathEscape(id)+"/approve", req, nil)
}

func (c *Client) DenyEscalation(ctx context.Context, id string, reason string) error {
	req := map[string]string{"reason": reason}
	return c.do(ctx, http.MethodPost, "/api/v1/escalations/"+url.PathEscape(id)+"/deny", req, nil)
}

func (c *Client) MarkEscalationUsed(ctx context.Context, id string, transactionID string) error {
	req := map[string]string{"transaction_id": transactionID}
	return c.do(ctx, http.MethodPost, "/api/v1/escalations/"+url.PathEscape(id)+"/used", req, nil)
}

func (c *Client) VolumePrice(ctx context.Context, productID string, customerID string, qty int) (domain.VolumePrice, error) {
	query := url.Values{}
	query.Set("product_id", productID)
	query.Set("customer_id", customerID)
	query.Set("qty", strconv.Itoa(qty))

	var price domain.VolumePrice
	err := c.do(ctx, http.MethodGet, "/api/v1/volume-pricing/price?"+query.Encode(), nil, &price)
	return price, err
}

func (c *Client) VolumeTiers(ctx context.Context, productID string) ([]domain.VolumeTier, error) {
	var resp struct {
		Tiers []domain.VolumeTier `json:"tiers"`
	}
	path := "/api/v1/volume-pricing/products/" + url.PathEscape(productID) + "/tiers"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tiers, nil
}

func (c *Client) Void(ctx context.Context, assessmentID string, reason string) error {
	req := map[string]string{"reason": reason}
	return c.do(ctx, http.MethodPost, "/api/v1/trade-ins/"+url.PathEscape(assessmentID)+"/void", req, nil)
}

func (c *Client) CreateTransaction(ctx context.Context, payload domain.TransactionPayload) (domain.SettlementResult, error) {
	var result domain.SettlementResult
	err := c.do(ctx, http.MethodPost, "/api/v1/transactions", payload, &result)
	return result, err
}

func (c *Client) do(ctx context.Context, method string, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	var errBody struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errBody)
	reason := errBody.Error
	if reason == "" {
		reason = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", backend.ErrNotFound, reason)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: %s", backend.ErrRejected, reason)
	default:
		return fmt.Errorf("%w: %s", backend.ErrUnavailable, reason)
	}
}
