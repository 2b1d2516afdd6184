package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/librescoot/bms-gateway/internal/telemetry"
)

// Client implements telemetry.HTTPSink by POSTing the sample as JSON to
// a fixed URL — the gateway's own /telemetry endpoint in single-box
// deployments, or an external collector.
type Client struct {
	URL        string
	HTTPClient *http.Client
}

var _ telemetry.HTTPSink = Client{}

// PostSample POSTs sample as JSON to the configured URL.
func (c Client) PostSample(ctx context.Context, sample telemetry.Sample) error {
	body, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("httpapi: telemetry endpoint returned %s", resp.Status)
	}
	return nil
}
