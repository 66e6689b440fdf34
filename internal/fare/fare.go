// Package fare talks to the external fare service. Which fare policy applies
// (computed, rate table, rider-set price) is the service's decision, not ours.
package fare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// HTTPClient requests an estimate from the fare service's /estimate route.
type HTTPClient struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

func (c *HTTPClient) Estimate(ctx context.Context, pickup, drop models.Place, distanceKm float64, vehicleClass string) (float64, error) {
	body, _ := json.Marshal(map[string]any{
		"pickup":        pickup,
		"drop":          drop,
		"distance_km":   distanceKm,
		"vehicle_class": vehicleClass,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/estimate", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fare service status %d", resp.StatusCode)
	}
	var out struct {
		Fare float64 `json:"fare"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Fare, nil
}

// Disabled is the fare-off policy: every estimate is zero and the rider
// settles the price off-platform.
type Disabled struct{}

func (Disabled) Estimate(ctx context.Context, pickup, drop models.Place, distanceKm float64, vehicleClass string) (float64, error) {
	return 0, nil
}
