package geoip

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Dan9191/auth-service/internal/config"
	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"
)

// Client resolves the country of an IP address through an XML geo-IP service
type Client struct {
	url    string
	client *http.Client
	log    *logrus.Logger
}

// NewClient initializes a new geo-IP client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		url: strings.TrimRight(cfg.GeoIPURL, "/"),
		client: &http.Client{
			Timeout: 3 * time.Second,
		},
		log: log,
	}
}

// Enabled reports whether a geo-IP endpoint is configured
func (c *Client) Enabled() bool {
	return c.url != ""
}

// sendRequest fetches the XML document describing ip
func (c *Client) sendRequest(ctx context.Context, ip string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/"+ip, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debugf("Geo-IP XML response: %s", string(body))

	return body, nil
}

// parseXMLResponse extracts the country from the response document
func (c *Client) parseXMLResponse(rawBody []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return "", fmt.Errorf("failed to parse XML: %w", err)
	}

	root := doc.SelectElement("Response")
	if root == nil {
		return "", fmt.Errorf("response element not found in XML")
	}

	// Prefer the full name, fall back to the ISO code
	for _, tag := range []string{"CountryName", "CountryCode"} {
		if el := root.SelectElement(tag); el != nil {
			if country := strings.TrimSpace(el.Text()); country != "" {
				return country, nil
			}
		}
	}
	return "", fmt.Errorf("country not found in XML")
}

// Country returns the country for ip. Private, loopback and unparsable
// addresses resolve to an empty string without a lookup.
func (c *Client) Country(ctx context.Context, ip string) (string, error) {
	if !c.Enabled() {
		return "", nil
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() {
		return "", nil
	}

	body, err := c.sendRequest(ctx, parsed.String())
	if err != nil {
		return "", err
	}

	country, err := c.parseXMLResponse(body)
	if err != nil {
		return "", err
	}

	c.log.Debugf("Resolved %s to %s", ip, country)
	return country, nil
}
