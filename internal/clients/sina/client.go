// Package sina fetches real-time index and stock quotes from the sina hq feed.
package sina

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

const (
	DefaultBaseURL = "https://hq.sinajs.cn/"
	DefaultSymbol  = "sh000001"
	DefaultTimeout = 10 * time.Second

	referer    = "https://finance.sina.com.cn"
	timeLayout = "2006-01-02 15:04:05"

	// A full quote line carries 33 comma separated fields.
	fieldCount = 33
	dateField  = 30
	timeField  = 31
)

var (
	ErrBadStatus      = errors.New("quote feed returned non-success status")
	ErrMalformedQuote = errors.New("malformed quote line")
)

// Level is one rung of the order book.
type Level struct {
	Volume decimal.Decimal `json:"volume"`
	Price  decimal.Decimal `json:"price"`
}

// Quote is one parsed hq line.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Open      decimal.Decimal `json:"open"`
	PrevClose decimal.Decimal `json:"prev_close"`
	Last      decimal.Decimal `json:"last"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume    decimal.Decimal `json:"volume"`
	Amount    decimal.Decimal `json:"amount"`
	Bids      [5]Level        `json:"bids"`
	Asks      [5]Level        `json:"asks"`
	Time      time.Time       `json:"time"`
	Status    string          `json:"status,omitempty"`
}

// Client for the sina hq quote feed
type Client struct {
	baseURL  string
	client   *http.Client
	location *time.Location
	log      zerolog.Logger
}

// NewClient creates a quote feed client. Quote timestamps are interpreted in loc.
func NewClient(baseURL string, timeout time.Duration, loc *time.Location, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if loc == nil {
		loc = time.Local
	}
	return &Client{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		location: loc,
		log:      log.With().Str("client", "sina-hq").Logger(),
	}
}

// Fetch retrieves the current quote for symbol (e.g. "sh000001").
func (c *Client) Fetch(ctx context.Context, symbol string) (*Quote, error) {
	url := c.baseURL + "?list=" + symbol
	c.log.Debug().Str("url", url).Msg("Fetching quote")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Referer", referer)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	// The feed is GBK encoded; names are decoded to UTF-8 before parsing
	line, err := firstLine(transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder()))
	if err != nil {
		return nil, err
	}

	quote, err := ParseLine(line, c.location)
	if err != nil {
		return nil, err
	}
	if quote.Symbol == "" {
		quote.Symbol = symbol
	}

	c.log.Debug().
		Str("symbol", quote.Symbol).
		Str("last", quote.Last.String()).
		Time("quote_time", quote.Time).
		Msg("Fetched quote")
	return quote, nil
}

// Session pings the quote feed as a keepalive session during market hours, so a
// feed outage shows up in the job history before the next probe.
type Session struct {
	client *Client
	symbol string
}

// NewSession creates a keepalive session fetching symbol.
func NewSession(client *Client, symbol string) *Session {
	if symbol == "" {
		symbol = DefaultSymbol
	}
	return &Session{client: client, symbol: symbol}
}

func (s *Session) Name() string { return "quote_feed" }

// Keepalive fetches one quote and reports any failure.
func (s *Session) Keepalive(ctx context.Context) error {
	if _, err := s.client.Fetch(ctx, s.symbol); err != nil {
		return fmt.Errorf("quote feed keepalive: %w", err)
	}
	return nil
}

func firstLine(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read quote body: %w", err)
	}
	return "", fmt.Errorf("%w: empty body", ErrMalformedQuote)
}

// ParseLine parses `var hq_str_sh000001="name,open,...,date,time,status";`.
func ParseLine(line string, loc *time.Location) (*Quote, error) {
	parts := strings.Split(line, `"`)
	if len(parts) < 3 {
		return nil, fmt.Errorf("%w: missing quoted payload", ErrMalformedQuote)
	}

	fields := strings.Split(parts[1], ",")
	if len(fields) < timeField+1 {
		return nil, fmt.Errorf("%w: got %d fields, want %d", ErrMalformedQuote, len(fields), fieldCount)
	}

	if loc == nil {
		loc = time.Local
	}
	at, err := time.ParseInLocation(timeLayout, fields[dateField]+" "+fields[timeField], loc)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp: %v", ErrMalformedQuote, err)
	}

	p := &fieldParser{fields: fields}
	q := &Quote{
		Symbol:    symbolFromVar(parts[0]),
		Name:      fields[0],
		Open:      p.decimal(1),
		PrevClose: p.decimal(2),
		Last:      p.decimal(3),
		High:      p.decimal(4),
		Low:       p.decimal(5),
		Bid:       p.decimal(6),
		Ask:       p.decimal(7),
		Volume:    p.decimal(8),
		Amount:    p.decimal(9),
		Time:      at,
	}
	for i := 0; i < 5; i++ {
		q.Bids[i] = Level{Volume: p.decimal(10 + 2*i), Price: p.decimal(11 + 2*i)}
		q.Asks[i] = Level{Volume: p.decimal(20 + 2*i), Price: p.decimal(21 + 2*i)}
	}
	if len(fields) > timeField+1 {
		q.Status = fields[timeField+1]
	}
	if p.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuote, p.err)
	}
	return q, nil
}

// symbolFromVar extracts "sh000001" from `var hq_str_sh000001=`.
func symbolFromVar(prefix string) string {
	idx := strings.LastIndex(prefix, "hq_str_")
	if idx < 0 {
		return ""
	}
	return strings.TrimSuffix(strings.TrimSpace(prefix[idx+len("hq_str_"):]), "=")
}

type fieldParser struct {
	fields []string
	err    error
}

func (p *fieldParser) decimal(i int) decimal.Decimal {
	raw := strings.TrimSpace(p.fields[i])
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %d: %w", i, err)
	}
	return d
}
