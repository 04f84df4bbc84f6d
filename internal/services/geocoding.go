package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	geocodeBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"

	addressCacheEntries = 1000
	addressCacheTTL     = 24 * time.Hour
)

// GeocodingService reverse-geocodes accepted reports using the Google Maps API
type GeocodingService struct {
	apiKey  string
	baseURL string
	client  *http.Client
	cache   *addressCache
}

// GoogleGeocodeResponse represents the Google Maps Geocoding API response
type GoogleGeocodeResponse struct {
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
	} `json:"results"`
	Status string `json:"status"`
}

// NewGeocodingService creates a new geocoding service
func NewGeocodingService(apiKey string) (*GeocodingService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google maps API key is required")
	}
	return &GeocodingService{
		apiKey:  apiKey,
		baseURL: geocodeBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		cache:   newAddressCache(addressCacheEntries, addressCacheTTL),
	}, nil
}

// ReverseGeocode converts coordinates to a formatted address
func (s *GeocodingService) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	key := cacheKey(lat, lng)
	if address, ok := s.cache.get(key); ok {
		return address, nil
	}

	params := url.Values{}
	params.Add("latlng", fmt.Sprintf("%f,%f", lat, lng))
	params.Add("key", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status code %d", resp.StatusCode)
	}

	var result GoogleGeocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Status != "OK" {
		return "", fmt.Errorf("geocoding API returned status: %s", result.Status)
	}
	if len(result.Results) == 0 {
		return "", fmt.Errorf("no results found")
	}

	address := result.Results[0].FormattedAddress
	s.cache.set(key, address)
	return address, nil
}

// cacheKey quantizes to about 11 m so reports on the same spot share a lookup.
func cacheKey(lat, lng float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lng)
}

// addressCache is a bounded TTL cache with least-recently-used eviction.
type addressCache struct {
	mu         sync.Mutex
	entries    map[string]*addressEntry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

type addressEntry struct {
	address      string
	createdAt    time.Time
	lastAccessed time.Time
}

func newAddressCache(maxEntries int, ttl time.Duration) *addressCache {
	return &addressCache{
		entries:    make(map[string]*addressEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

func (c *addressCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	now := c.now()
	if now.Sub(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		return "", false
	}
	entry.lastAccessed = now
	return entry.address, true
}

func (c *addressCache) set(key, address string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	now := c.now()
	c.entries[key] = &addressEntry{address: address, createdAt: now, lastAccessed: now}
}

// evictOldest removes the least recently used entry
func (c *addressCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.lastAccessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccessed
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
