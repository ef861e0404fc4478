package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ctut-gis/atm-cli/internal/resilience"
)

// reverseResponse also carries the "error" field Nominatim returns with a 200
// when nothing is found at the coordinate.
type reverseResponse struct {
	Place
	Error string `json:"error"`
}

// Reverse implements Client.
func (n *nominatim) Reverse(ctx context.Context, lat, lng float64) (*Place, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limit")
	}

	params := url.Values{
		"format":         {"jsonv2"},
		"lat":            {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":            {strconv.FormatFloat(lng, 'f', -1, 64)},
		"addressdetails": {"1"},
	}
	reqURL := n.baseURL + "/reverse?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")
	if n.acceptLanguage != "" {
		req.Header.Set("Accept-Language", n.acceptLanguage)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: reverse request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := eris.Errorf("geocode: nominatim returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read body")
	}

	var rr reverseResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, eris.Wrap(err, "geocode: parse response")
	}

	if rr.Error != "" || rr.DisplayName == "" {
		zap.L().Debug("geocode: no result",
			zap.Float64("lat", lat),
			zap.Float64("lng", lng),
			zap.String("reason", rr.Error),
		)
		return nil, nil
	}

	place := rr.Place
	return &place, nil
}
