package riot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lol-match-alerts/internal/config"
	"lol-match-alerts/internal/storage"
)

// DefaultBaseURL serves the regional routing host when none is configured.
const DefaultBaseURL = "https://%s.api.riotgames.com"

// maxIDsPerPage is the upper bound the match-ids endpoint accepts.
const maxIDsPerPage = 100

// Limiter gates outbound requests against the API quota.
type Limiter interface {
	Acquire(ctx context.Context) error
	OnRemoteBackoff(d time.Duration)
}

// Account identifies a player resolved from a Riot ID.
type Account struct {
	PUUID    string `json:"puuid"`
	GameName string `json:"gameName"`
	TagLine  string `json:"tagLine"`
}

// Client talks to the Riot match-v5 and account-v1 endpoints. Every request
// passes through the limiter first, so callers never need to pace themselves.
type Client struct {
	httpClient  *http.Client
	limiter     Limiter
	baseURL     string
	apiKey      string
	artifactDir string
	logger      zerolog.Logger
}

// NewClient constructs a Client from configuration.
func NewClient(cfg config.RiotConfig, limiter Limiter, logger zerolog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf(DefaultBaseURL, cfg.Region)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     limiter,
		baseURL:     strings.TrimRight(base, "/"),
		apiKey:      cfg.APIKey,
		artifactDir: cfg.InvalidResponsesDir,
		logger:      logger.With().Str("component", "riot_client").Logger(),
	}
}

// FetchAccountByRiotID resolves a gameName#tagLine pair to a PUUID.
func (c *Client) FetchAccountByRiotID(ctx context.Context, gameName, tagLine string) (*Account, error) {
	op := "fetch_account"
	path := fmt.Sprintf("/riot/account/v1/accounts/by-riot-id/%s/%s",
		url.PathEscape(gameName), url.PathEscape(tagLine))

	body, err := c.get(ctx, op, path, nil)
	if err != nil {
		return nil, err
	}

	var acct Account
	if err := json.Unmarshal(body, &acct); err != nil {
		return nil, c.malformed(op, "account", body, err)
	}
	if acct.PUUID == "" {
		return nil, c.malformed(op, "account", body, errors.New("response missing puuid"))
	}
	return &acct, nil
}

// FetchMatchIDs returns match IDs for a player, newest first, optionally
// restricted to matches starting at or after since. Count is clamped to the
// endpoint maximum of 100.
func (c *Client) FetchMatchIDs(ctx context.Context, puuid string, since time.Time, count int) ([]string, error) {
	op := "fetch_match_ids"
	if count <= 0 || count > maxIDsPerPage {
		count = maxIDsPerPage
	}

	query := url.Values{}
	query.Set("count", strconv.Itoa(count))
	if !since.IsZero() {
		query.Set("startTime", strconv.FormatInt(since.Unix(), 10))
	}

	path := fmt.Sprintf("/lol/match/v5/matches/by-puuid/%s/ids", url.PathEscape(puuid))
	body, err := c.get(ctx, op, path, query)
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, c.malformed(op, "match_ids", body, err)
	}
	return ids, nil
}

// FetchMatch retrieves a single match and normalises it into a MatchRecord.
func (c *Client) FetchMatch(ctx context.Context, matchID string) (*storage.MatchRecord, error) {
	op := "fetch_match"
	path := fmt.Sprintf("/lol/match/v5/matches/%s", url.PathEscape(matchID))

	body, err := c.get(ctx, op, path, nil)
	if err != nil {
		return nil, err
	}

	var dto matchDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return nil, c.malformed(op, matchID, body, err)
	}
	rec, err := dto.toRecord()
	if err != nil {
		return nil, c.malformed(op, matchID, body, err)
	}
	return rec, nil
}

// get performs one rate-limited GET and classifies the outcome.
func (c *Client) get(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("%s: acquire rate limit permit: %w", op, err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &PermanentError{Op: op, Err: err}
	}
	req.Header.Set("X-Riot-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures, timeouts included, are worth a retry.
		return nil, &RetryableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &RetryableError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		cooldown := retryAfter(resp.Header)
		c.limiter.OnRemoteBackoff(cooldown)
		c.logger.Warn().
			Str("op", op).
			Dur("cooldown", cooldown).
			Msg("api quota exhausted, backing off")
		return nil, &RetryableError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("rate limited, retry after %s", cooldown)}
	case resp.StatusCode >= 500:
		return nil, &RetryableError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("server error: %s", firstLine(body))}
	default:
		return nil, &PermanentError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status: %s", firstLine(body))}
	}
}

// malformed records the raw payload on disk and returns a PermanentError
// pointing at it. A failed write never masks the validation error itself.
func (c *Client) malformed(op, subject string, body []byte, cause error) error {
	perr := &PermanentError{Op: op, Err: fmt.Errorf("malformed payload for %s: %w", subject, cause)}
	if c.artifactDir == "" {
		return perr
	}

	if err := os.MkdirAll(c.artifactDir, 0o755); err != nil {
		c.logger.Error().Err(err).Msg("failed to create invalid response dir")
		return perr
	}

	name := fmt.Sprintf("%s_%s_%d.json", op, sanitize(subject), time.Now().UnixNano())
	path := filepath.Join(c.artifactDir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		c.logger.Error().Err(err).Str("path", path).Msg("failed to save invalid response")
		return perr
	}

	perr.ArtifactPath = path
	c.logger.Warn().
		Str("op", op).
		Str("subject", subject).
		Str("artifact", path).
		Msg("saved malformed api payload")
	return perr
}

func retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	// Riot omits Retry-After on some edges; a conservative default applies.
	return 10 * time.Second
}

func firstLine(body []byte) string {
	s := strings.TrimSpace(string(body))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
