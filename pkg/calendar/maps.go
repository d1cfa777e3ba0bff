package calendar

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"
)

// MapsEstimator estimates driving time with the Distance Matrix API
type MapsEstimator struct {
	client *maps.Client
}

func NewMapsEstimator(apiKey string) (*MapsEstimator, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &MapsEstimator{client: client}, nil
}

func (m *MapsEstimator) EstimateMinutes(ctx context.Context, origin, destination string) (int, error) {
	resp, err := m.client.DistanceMatrix(ctx, &maps.DistanceMatrixRequest{
		Origins:      []string{origin},
		Destinations: []string{destination},
		Mode:         maps.TravelModeDriving,
	})
	if err != nil {
		return 0, fmt.Errorf("distance matrix request failed: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return 0, fmt.Errorf("distance matrix returned no elements")
	}

	element := resp.Rows[0].Elements[0]
	if element.Status != "OK" {
		return 0, fmt.Errorf("distance matrix element status %s", element.Status)
	}

	minutes := int(element.Duration.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes, nil
}
