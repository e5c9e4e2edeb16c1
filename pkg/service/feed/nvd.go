package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/cyberscope/pkg/domain/interfaces"
	"github.com/secmon-lab/cyberscope/pkg/domain/model"
)

const (
	sourceNVD        = "NVD"
	nvdTimestampFmt  = "2006-01-02T15:04:05.000"
	defaultPageSize  = 200
	defaultRetryHint = 30 * time.Second
)

// nvdResponse mirrors the NVD CVE API 2.0 payload, limited to the
// fields the normalizer consumes
type nvdResponse struct {
	ResultsPerPage  int `json:"resultsPerPage"`
	StartIndex      int `json:"startIndex"`
	TotalResults    int `json:"totalResults"`
	Vulnerabilities []struct {
		CVE struct {
			ID           string           `json:"id"`
			Published    string           `json:"published"`
			LastModified string           `json:"lastModified"`
			Descriptions []nvdDescription `json:"descriptions"`
			Metrics      struct {
				CVSSMetricV31 []nvdMetric `json:"cvssMetricV31"`
				CVSSMetricV30 []nvdMetric `json:"cvssMetricV30"`
			} `json:"metrics"`
		} `json:"cve"`
	} `json:"vulnerabilities"`
}

type nvdDescription struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type nvdMetric struct {
	CVSSData struct {
		BaseScore    float64 `json:"baseScore"`
		BaseSeverity string  `json:"baseSeverity"`
	} `json:"cvssData"`
}

// NVDClient fetches disclosure records from the NIST NVD CVE API. It
// is stateless between calls; pagination state lives entirely in the
// caller-supplied page token (the startIndex of the next page).
type NVDClient struct {
	endpoint   string
	apiKey     string
	pageSize   int
	httpClient *http.Client
}

// NVDOption configures an NVDClient
type NVDOption func(*NVDClient)

// WithAPIKey sets the NVD API key header
func WithAPIKey(key string) NVDOption {
	return func(c *NVDClient) {
		c.apiKey = key
	}
}

// WithPageSize sets the resultsPerPage parameter
func WithPageSize(size int) NVDOption {
	return func(c *NVDClient) {
		if size > 0 {
			c.pageSize = size
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client
func WithHTTPClient(client *http.Client) NVDOption {
	return func(c *NVDClient) {
		c.httpClient = client
	}
}

// NewNVDClient creates a new NVD feed client
func NewNVDClient(endpoint string, opts ...NVDOption) interfaces.FeedClient {
	c := &NVDClient{
		endpoint:   endpoint,
		pageSize:   defaultPageSize,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch retrieves one page of records modified since the given
// timestamp. A rate-limited response returns an empty page with a
// RetryAfter hint and the unchanged page token instead of retrying.
func (c *NVDClient) Fetch(ctx context.Context, since time.Time, pageToken string) (*model.FeedPage, error) {
	startIndex := 0
	if pageToken != "" {
		idx, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid page token", goerr.V("token", pageToken))
		}
		startIndex = idx
	}

	query := url.Values{}
	query.Set("lastModStartDate", since.UTC().Format(nvdTimestampFmt))
	query.Set("lastModEndDate", time.Now().UTC().Format(nvdTimestampFmt))
	query.Set("resultsPerPage", strconv.Itoa(c.pageSize))
	query.Set("startIndex", strconv.Itoa(startIndex))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build feed request")
	}
	if c.apiKey != "" {
		req.Header.Set("apiKey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call disclosure feed",
			goerr.T(model.ErrTagFeedUnavailable),
			goerr.V("endpoint", c.endpoint))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &model.FeedPage{
			NextPageToken: pageToken,
			RetryAfter:    parseRetryAfter(resp.Header.Get("Retry-After")),
		}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, goerr.New("feed returned non-OK status",
			goerr.T(model.ErrTagFeedUnavailable),
			goerr.V("status", resp.StatusCode))
	}

	var payload nvdResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, goerr.Wrap(err, "failed to decode feed response",
			goerr.T(model.ErrTagFeedUnavailable))
	}

	page := &model.FeedPage{
		Records: make([]model.RawRecord, 0, len(payload.Vulnerabilities)),
	}
	for _, v := range payload.Vulnerabilities {
		page.Records = append(page.Records, model.RawRecord{
			ID:          v.CVE.ID,
			Title:       englishDescription(v.CVE.Descriptions, true),
			Description: englishDescription(v.CVE.Descriptions, false),
			SeverityRaw: baseScore(v.CVE.Metrics.CVSSMetricV31, v.CVE.Metrics.CVSSMetricV30),
			Published:   v.CVE.Published,
			Modified:    v.CVE.LastModified,
			Source:      sourceNVD,
		})
	}

	next := payload.StartIndex + len(payload.Vulnerabilities)
	if next < payload.TotalResults && len(payload.Vulnerabilities) > 0 {
		page.NextPageToken = strconv.Itoa(next)
	}

	return page, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return defaultRetryHint
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultRetryHint
}

// englishDescription picks the English description; the first entry is
// the fallback. When title is requested, the text is clipped at the
// first sentence boundary.
func englishDescription(descriptions []nvdDescription, title bool) string {
	text := ""
	for _, d := range descriptions {
		if d.Lang == "en" {
			text = d.Value
			break
		}
	}
	if text == "" && len(descriptions) > 0 {
		text = descriptions[0].Value
	}
	if title {
		return firstSentence(text)
	}
	return text
}

func firstSentence(text string) string {
	for i, r := range text {
		if r == '.' && i > 0 {
			return text[:i+1]
		}
	}
	return text
}

func baseScore(v31, v30 []nvdMetric) string {
	metrics := v31
	if len(metrics) == 0 {
		metrics = v30
	}
	if len(metrics) == 0 {
		return ""
	}
	return strconv.FormatFloat(metrics[0].CVSSData.BaseScore, 'f', 1, 64)
}
