package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"earthquake-stories-go/internal/cache"
	"earthquake-stories-go/internal/extractor"
	"earthquake-stories-go/internal/labels"
	"earthquake-stories-go/internal/retry"
)

// featureCollection is the part of a Photon GeoJSON response we read.
type featureCollection struct {
	Features []struct {
		Geometry struct {
			Coordinates []any `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

func (c *Client) geocode(ctx context.Context, req Request) Result {
	key := req.Payload
	if strings.TrimSpace(key) == "" {
		return Result{Kind: KindGeocodeLookup, Err: ErrLocationNotFound}
	}
	if e, ok := c.cache.Get(key); ok {
		return fromEntry(e)
	}

	// Concurrent misses for the same key share one upstream lookup. The
	// lookup outlives any single caller; each caller stops waiting on its
	// own context.
	flight := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if e, ok := c.cache.Peek(key); ok {
			return fromEntry(e), nil
		}
		return c.lookup(flight, key), nil
	})
	var res Result
	select {
	case r := <-ch:
		res = r.Val.(Result)
	case <-ctx.Done():
		return Result{
			Kind:     KindGeocodeLookup,
			Fallback: true,
			Err:      fmt.Errorf("%w: %w", ErrServiceUnavailable, ctx.Err()),
		}
	}
	if res.Coordinates != nil {
		coords := *res.Coordinates
		res.Coordinates = &coords
	}
	return res
}

func fromEntry(e cache.Entry) Result {
	res := Result{Kind: KindGeocodeLookup, Cached: true, Coordinates: e.Value}
	if !e.Found() {
		res.Err = ErrLocationNotFound
	}
	return res
}

func (c *Client) lookup(ctx context.Context, location string) Result {
	res := Result{Kind: KindGeocodeLookup}
	log := c.log.WithField("kind", KindGeocodeLookup).WithField("location", location)

	endpoint, err := c.geocodeURL(location)
	if err != nil {
		log.WithField("error", err.Error()).Error("bad geocoder url")
		res.Err = fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		res.Fallback = true
		return res
	}

	var coords labels.Coordinates
	attempts, err := c.run(ctx, KindGeocodeLookup, c.cfg.GeocodeTimeout, func(ctx context.Context) error {
		body, err := c.get(ctx, endpoint)
		if err != nil {
			return err
		}
		var fc featureCollection
		if err := json.Unmarshal(body, &fc); err != nil {
			return fmt.Errorf("%w: %w: %v", ErrUnexpectedResponse, extractor.ErrMalformedOutput, err)
		}
		if len(fc.Features) == 0 {
			return retry.Permanent(ErrLocationNotFound)
		}
		if coords, err = labels.ValidateCoordinates(fc.Features[0].Geometry.Coordinates); err != nil {
			return fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
		}
		return nil
	})
	res.Attempts = attempts

	switch {
	case err == nil:
		c.cache.Put(location, &coords)
		res.Coordinates = &coords
		log.WithField("latitude", coords.Latitude).WithField("longitude", coords.Longitude).Debug("geocoded")
	case errors.Is(err, ErrLocationNotFound):
		c.cache.Put(location, nil)
		res.Err = ErrLocationNotFound
		log.Info("location not found")
	default:
		// Not cached: the service may recover.
		log.WithField("attempts", attempts).WithField("error", err.Error()).Error("geocoder unavailable")
		res.Err = fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
		res.Fallback = true
	}
	return res
}

func (c *Client) geocodeURL(location string) (string, error) {
	u, err := url.Parse(c.cfg.GeocodeURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("q", location)
	if c.cfg.GeocodeLang != "" {
		q.Set("lang", c.cfg.GeocodeLang)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Geocode returns coordinates for location, ErrLocationNotFound, or an
// error wrapping ErrServiceUnavailable.
func (c *Client) Geocode(ctx context.Context, location string) (labels.Coordinates, error) {
	res := c.Infer(ctx, Request{Kind: KindGeocodeLookup, Payload: location})
	if res.Err != nil {
		return labels.Coordinates{}, res.Err
	}
	return *res.Coordinates, nil
}
