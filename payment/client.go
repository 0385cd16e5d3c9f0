package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Charge is the processor's handle for one payment attempt. QRImageURL is the
// scannable reference shown to the buyer; ID comes back later in the webhook.
type Charge struct {
	ID         string
	QRImageURL string
}

// Client creates charges against the payment processor's REST API. The order
// id is attached as charge metadata so the inbound webhook can correlate.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

type sourceResponse struct {
	ID string `json:"id"`
}

type chargeResponse struct {
	ID     string `json:"id"`
	Source struct {
		ScannableCode struct {
			Image struct {
				DownloadURI string `json:"download_uri"`
			} `json:"image"`
		} `json:"scannable_code"`
	} `json:"source"`
}

// CreateCharge creates a promptpay source and a charge on it, returning the
// charge id and the QR image to present to the buyer.
func (c *Client) CreateCharge(ctx context.Context, amount int64, orderID string) (Charge, error) {
	if amount <= 0 {
		return Charge{}, fmt.Errorf("payment: charge amount must be positive")
	}
	if orderID == "" {
		return Charge{}, fmt.Errorf("payment: charge requires an order id")
	}

	var src sourceResponse
	if err := c.postForm(ctx, "/sources", url.Values{
		"amount":   {strconv.FormatInt(amount, 10)},
		"currency": {"thb"},
		"type":     {"promptpay"},
	}, &src); err != nil {
		return Charge{}, fmt.Errorf("payment: create source: %w", err)
	}

	var chg chargeResponse
	if err := c.postForm(ctx, "/charges", url.Values{
		"amount":             {strconv.FormatInt(amount, 10)},
		"currency":           {"thb"},
		"source":             {src.ID},
		"metadata[order_id]": {orderID},
	}, &chg); err != nil {
		return Charge{}, fmt.Errorf("payment: create charge: %w", err)
	}

	return Charge{
		ID:         chg.ID,
		QRImageURL: chg.Source.ScannableCode.Image.DownloadURI,
	}, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.secretKey, "")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("processor returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode processor response: %w", err)
	}
	return nil
}
