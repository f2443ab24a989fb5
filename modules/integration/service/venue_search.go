package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"event-coordinator/core/config"
	"event-coordinator/core/gateway"
	"event-coordinator/core/logger"
	"event-coordinator/modules/integration/dto"

	"github.com/gosimple/slug"
	"github.com/redis/go-redis/v9"
)

// VenueSearcher queries the venue providers. The primary provider covers all
// venue types; the secondary restaurant directory is consulted for dining
// events only. Results are cached in Redis keyed by the normalized query so
// a re-entered venue_search phase does not re-bill the providers.
type VenueSearcher struct {
	cfg    config.VenuesConfig
	gw     *gateway.Gateway
	rdb    redis.UniversalClient
	client *http.Client
}

type VenueSearcherInterface interface {
	SearchPrimary(ctx context.Context, q dto.VenueQuery) ([]dto.VenueCandidate, error)
	SearchSecondary(ctx context.Context, q dto.VenueQuery) ([]dto.VenueCandidate, error)
}

func NewVenueSearcher(cfg config.VenuesConfig, gw *gateway.Gateway, rdb redis.UniversalClient) *VenueSearcher {
	return &VenueSearcher{
		cfg:    cfg,
		gw:     gw,
		rdb:    rdb,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *VenueSearcher) cacheKey(provider string, q dto.VenueQuery) string {
	return "venues:" + provider + ":" + slug.Make(fmt.Sprintf("%s %s %s %d %d", q.Keyword, q.Kind, q.Area, q.PartySize, q.Budget))
}

func (s *VenueSearcher) fromCache(ctx context.Context, key string) ([]dto.VenueCandidate, bool) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("VenueSearcher:fromCache", "key", key, "error", err)
		}
		return nil, false
	}
	var candidates []dto.VenueCandidate
	if err := json.Unmarshal(raw, &candidates); err != nil {
		return nil, false
	}
	return candidates, true
}

func (s *VenueSearcher) toCache(ctx context.Context, key string, candidates []dto.VenueCandidate) {
	raw, err := json.Marshal(candidates)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, raw, s.cfg.CacheTTL).Err(); err != nil {
		logger.Warn("VenueSearcher:toCache", "key", key, "error", err)
	}
}

// ===================== Primary provider (places) =====================

type placesSearchRequest struct {
	TextQuery string `json:"textQuery"`
	PageSize  int    `json:"pageSize"`
}

type placesSearchResponse struct {
	Places []struct {
		DisplayName struct {
			Text string `json:"text"`
		} `json:"displayName"`
		FormattedAddress string   `json:"formattedAddress"`
		Rating           *float64 `json:"rating"`
		PriceLevel       string   `json:"priceLevel"`
		ID               string   `json:"id"`
		GoogleMapsURI    string   `json:"googleMapsUri"`
	} `json:"places"`
}

func (s *VenueSearcher) SearchPrimary(ctx context.Context, q dto.VenueQuery) ([]dto.VenueCandidate, error) {
	key := s.cacheKey("places", q)
	if cached, ok := s.fromCache(ctx, key); ok {
		return cached, nil
	}

	reqBody := placesSearchRequest{
		TextQuery: q.Keyword + " " + q.Area,
		PageSize:  20,
	}

	var parsed placesSearchResponse
	err := s.gw.Invoke(ctx, gateway.CapabilityVenuePrimary, func(ctx context.Context) error {
		body, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", s.cfg.Places.BaseURL+"/places:searchText", bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Goog-Api-Key", s.cfg.Places.APIKey)
		httpReq.Header.Set("X-Goog-FieldMask", "places.id,places.displayName,places.formattedAddress,places.rating,places.priceLevel,places.googleMapsUri")

		resp, err := s.client.Do(httpReq)
		if err != nil {
			return gateway.Transient(err)
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("places search failed: status %d: %s", resp.StatusCode, string(respBody))
			return gateway.FromHTTPStatus(resp.StatusCode, err)
		}
		return json.Unmarshal(respBody, &parsed)
	})
	if err != nil {
		logger.Error("VenueSearcher:SearchPrimary", err)
		return nil, err
	}

	candidates := make([]dto.VenueCandidate, 0, len(parsed.Places))
	for _, p := range parsed.Places {
		c := dto.VenueCandidate{
			Name:        p.DisplayName.Text,
			Address:     p.FormattedAddress,
			Type:        venueTypeForKind(q.Kind),
			Capacity:    estimatedCapacity(q.PartySize),
			Rating:      p.Rating,
			Provider:    "places",
			ProviderRef: p.ID,
			MapURL:      p.GoogleMapsURI,
		}
		if cost := costFromPriceLevel(p.PriceLevel); cost > 0 {
			c.CostPerPerson = &cost
		}
		candidates = append(candidates, c)
	}

	s.toCache(ctx, key, candidates)
	return candidates, nil
}

// costFromPriceLevel maps the provider's coarse price bands to a per-person
// yen estimate comparable with the budget preference.
func costFromPriceLevel(level string) int {
	switch level {
	case "PRICE_LEVEL_INEXPENSIVE":
		return 1500
	case "PRICE_LEVEL_MODERATE":
		return 3000
	case "PRICE_LEVEL_EXPENSIVE":
		return 6000
	case "PRICE_LEVEL_VERY_EXPENSIVE":
		return 10000
	default:
		return 0
	}
}

// estimatedCapacity is used when a provider does not report capacity. The
// estimate is deliberately generous so the capacity filter does not discard
// venues on missing data.
func estimatedCapacity(partySize int) int {
	if partySize < 4 {
		return 8
	}
	return partySize * 2
}

func venueTypeForKind(kind string) string {
	if kind == "dining" {
		return "restaurant"
	}
	return "external"
}

// ===================== Secondary provider (gurume) =====================

type gurumeSearchResponse struct {
	Rest []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Address string `json:"address"`
		Budget  string `json:"budget"`
		Access  struct {
			URL string `json:"url"`
		} `json:"access"`
		Capacity int `json:"capacity"`
	} `json:"rest"`
}

// SearchSecondary queries the restaurant directory. Dining only; callers
// guard the kind.
func (s *VenueSearcher) SearchSecondary(ctx context.Context, q dto.VenueQuery) ([]dto.VenueCandidate, error) {
	key := s.cacheKey("gurume", q)
	if cached, ok := s.fromCache(ctx, key); ok {
		return cached, nil
	}

	params := url.Values{}
	params.Set("keyid", s.cfg.Gurume.APIKey)
	params.Set("freeword", q.Keyword)
	params.Set("area", q.Area)
	params.Set("hit_per_page", "20")

	var parsed gurumeSearchResponse
	err := s.gw.Invoke(ctx, gateway.CapabilityVenueSecondary, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, "GET", s.cfg.Gurume.BaseURL+"/RestSearchAPI/?"+params.Encode(), nil)
		if err != nil {
			return err
		}

		resp, err := s.client.Do(httpReq)
		if err != nil {
			return gateway.Transient(err)
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("gurume search failed: status %d: %s", resp.StatusCode, string(respBody))
			return gateway.FromHTTPStatus(resp.StatusCode, err)
		}
		return json.Unmarshal(respBody, &parsed)
	})
	if err != nil {
		logger.Error("VenueSearcher:SearchSecondary", err)
		return nil, err
	}

	candidates := make([]dto.VenueCandidate, 0, len(parsed.Rest))
	for _, r := range parsed.Rest {
		capacity := r.Capacity
		if capacity == 0 {
			capacity = estimatedCapacity(q.PartySize)
		}
		c := dto.VenueCandidate{
			Name:        r.Name,
			Address:     r.Address,
			Type:        "restaurant",
			Capacity:    capacity,
			Provider:    "gurume",
			ProviderRef: r.ID,
			MapURL:      r.Access.URL,
		}
		if cost, err := strconv.Atoi(r.Budget); err == nil && cost > 0 {
			c.CostPerPerson = &cost
		}
		candidates = append(candidates, c)
	}

	s.toCache(ctx, key, candidates)
	return candidates, nil
}
