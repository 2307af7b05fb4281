// Package labels talks to the external image label-detection service.
package labels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"photoflow/internal/errs"
	"photoflow/internal/models"
)

// Label is one detected label with the service's confidence in [0,1].
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Detector is the collaborator surface consumed by the label worker.
type Detector interface {
	DetectLabels(ctx context.Context, image []byte) ([]Label, error)
}

// HTTPDetector posts image bytes to the configured detection endpoint.
type HTTPDetector struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPDetector(cfg models.LabelsConfig) *HTTPDetector {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDetector{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDetector) DetectLabels(ctx context.Context, image []byte) ([]Label, error) {
	const op = "labels.DetectLabels"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(image))
	if err != nil {
		return nil, errs.Wrap(errs.KindExternalService, op, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindExternalService, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindExternalService, op,
			fmt.Sprintf("detection service returned %d", resp.StatusCode))
	}

	var payload struct {
		Labels []Label `json:"labels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errs.Wrap(errs.KindExternalService, op, err)
	}
	return payload.Labels, nil
}
