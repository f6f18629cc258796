package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bizi-lab/stationpulse/internal/core/retry"
)

const (
	feedStationInformation = "station_information"
	feedStationStatus      = "station_status"

	userAgent = "stationpulse-collector/1.0"

	fetchMaxAttempts = 5
	fetchBaseDelay   = time.Second
)

// Client fetches the GBFS auto-discovery document and the two station feeds.
// Transient HTTP failures are retried with exponential backoff.
type Client struct {
	httpClient   *http.Client
	discoveryURL string
}

// NewClient creates a feed client rooted at the GBFS discovery URL.
func NewClient(discoveryURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		discoveryURL: discoveryURL,
	}
}

// Snapshot is one full fetch of the network: current metadata plus one raw
// sample per station in service.
type Snapshot struct {
	Stations  []Station
	Samples   []Sample
	FetchedAt time.Time
}

// Fetch resolves the feed URLs, then pulls station_information and
// station_status concurrently and joins them into a snapshot.
func (c *Client) Fetch(ctx context.Context) (Snapshot, error) {
	infoURL, statusURL, err := c.resolveFeeds(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	var info gbfsStationInformation
	var status gbfsStationStatus

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.getJSON(gctx, infoURL, &info)
	})
	g.Go(func() error {
		return c.getJSON(gctx, statusURL, &status)
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	return buildSnapshot(info, status, time.Now().UTC()), nil
}

// resolveFeeds finds the two station feeds in the discovery document,
// preferring the first language block that carries both.
func (c *Client) resolveFeeds(ctx context.Context) (infoURL, statusURL string, err error) {
	var discovery gbfsDiscovery
	if err := c.getJSON(ctx, c.discoveryURL, &discovery); err != nil {
		return "", "", fmt.Errorf("gbfs discovery: %w", err)
	}

	for _, lang := range discovery.Data {
		var info, status string
		for _, feed := range lang.Feeds {
			switch feed.Name {
			case feedStationInformation:
				info = feed.URL
			case feedStationStatus:
				status = feed.URL
			}
		}
		if info != "" && status != "" {
			return info, status, nil
		}
	}
	return "", "", fmt.Errorf("gbfs discovery: no language block carries both %s and %s", feedStationInformation, feedStationStatus)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	body, err := retry.Do(ctx, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body) //nolint:errcheck
			return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, URL: url}
		}
		return io.ReadAll(resp.Body)
	}, fetchMaxAttempts, fetchBaseDelay)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// buildSnapshot joins status rows to their metadata. Stations that are not
// installed or missing from station_information produce no sample.
func buildSnapshot(info gbfsStationInformation, status gbfsStationStatus, fetchedAt time.Time) Snapshot {
	snap := Snapshot{FetchedAt: fetchedAt}

	known := make(map[string]bool, len(info.Data.Stations))
	for _, s := range info.Data.Stations {
		known[s.StationID] = true
		snap.Stations = append(snap.Stations, Station{
			ID:       s.StationID,
			Name:     s.Name,
			Lat:      s.Lat,
			Lon:      s.Lon,
			Capacity: s.Capacity,
		})
	}

	for _, s := range status.Data.Stations {
		if !known[s.StationID] || s.IsInstalled == 0 {
			continue
		}
		if s.NumBikesAvailable < 0 || s.NumDocksAvailable < 0 {
			slog.Warn("[Collector] Skipping station with negative counts", "station_id", s.StationID)
			continue
		}
		recorded := time.Unix(s.LastReported, 0).UTC()
		if s.LastReported == 0 {
			recorded = time.Unix(status.LastUpdated, 0).UTC()
		}
		snap.Samples = append(snap.Samples, Sample{
			StationID:      s.StationID,
			BikesAvailable: s.NumBikesAvailable,
			AnchorsFree:    s.NumDocksAvailable,
			RecordedAt:     recorded,
		})
	}
	return snap
}
