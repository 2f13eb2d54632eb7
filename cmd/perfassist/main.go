package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/workmate/internal/protocol"
)

// perfassist replays assistant requests against a running server over the
// websocket and reports round trip latency. It signs in through the
// authorization endpoints, so the server must run with PROVIDER_MODE=mock
// unless -token is given.

type options struct {
	baseURL      string
	provider     string
	token        string
	turns        int
	interTurn    time.Duration
	turnTimeout  time.Duration
	texts        []string
	clearContext bool
	verbose      bool
}

type authStart struct {
	State string `json:"state"`
}

type authToken struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
}

type wsEnvelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

var defaultTexts = []string{
	"Summarize my unread email in one line.",
	"What should I work on next?",
	"Draft a two line status update.",
	"Anything due tomorrow?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfassist: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfassist: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8000", "workmate base URL")
	flag.StringVar(&cfg.provider, "provider", "google", "identity provider used for the synthetic sign-in")
	flag.StringVar(&cfg.token, "token", "", "existing app token (skips the sign-in)")
	flag.IntVar(&cfg.turns, "turns", 10, "number of requests to replay")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 100, "delay between requests in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout waiting for each reply in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "request texts separated by '|' (optional)")
	flag.BoolVar(&cfg.clearContext, "clear", true, "clear the conversation context before replaying")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	return normalizeOptions(cfg, textsRaw, interTurnMS, turnTimeoutMS)
}

func normalizeOptions(cfg options, textsRaw string, interTurnMS, turnTimeoutMS int) (options, error) {
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurn = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultTexts...)
		return cfg, nil
	}
	for _, part := range strings.Split(textsRaw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			cfg.texts = append(cfg.texts, t)
		}
	}
	if len(cfg.texts) == 0 {
		return options{}, fmt.Errorf("texts produced no non-empty requests")
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	httpClient := &http.Client{Timeout: 30 * time.Second}

	token := cfg.token
	if token == "" {
		var err error
		token, err = signIn(ctx, httpClient, cfg)
		if err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
	}

	wsURL, err := wsURLFor(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	replies := make(chan wsEnvelope, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, replies, readErrCh)

	if cfg.clearContext {
		if err := conn.WriteJSON(protocol.ClearContext{Type: protocol.TypeClearContext}); err != nil {
			return fmt.Errorf("send clear_context: %w", err)
		}
		if _, err := awaitReply(replies, readErrCh, "", cfg.turnTimeout); err != nil {
			return fmt.Errorf("await clear_context: %w", err)
		}
	}

	latencies := make([]time.Duration, 0, cfg.turns)
	failures := 0
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		requestID := uuid.NewString()
		if cfg.verbose {
			fmt.Printf("perfassist: request %d/%d text=%q\n", i+1, cfg.turns, text)
		}
		started := time.Now()
		if err := conn.WriteJSON(protocol.ProcessRequest{
			Type:      protocol.TypeProcessRequest,
			RequestID: requestID,
			Text:      text,
		}); err != nil {
			return fmt.Errorf("request %d send: %w", i+1, err)
		}
		reply, err := awaitReply(replies, readErrCh, requestID, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("request %d await reply: %w", i+1, err)
		}
		elapsed := time.Since(started)
		if reply.Type == string(protocol.TypeErrorEvent) {
			failures++
			fmt.Fprintf(os.Stderr, "perfassist: error_event code=%s detail=%s\n", reply.Code, reply.Detail)
		} else {
			latencies = append(latencies, elapsed)
		}
		if cfg.interTurn > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurn)
		}
	}

	s := summarize(latencies)
	fmt.Printf("perfassist: ok=%d failed=%d p50=%s p95=%s max=%s\n",
		s.count, failures, s.p50.Round(time.Millisecond), s.p95.Round(time.Millisecond), s.max.Round(time.Millisecond))

	if cfg.verbose {
		if stages, err := fetchStages(ctx, httpClient, cfg.baseURL); err == nil {
			fmt.Printf("perfassist: server stages %s\n", stages)
		}
	}
	return nil
}

func signIn(ctx context.Context, client *http.Client, cfg options) (string, error) {
	var start authStart
	if err := getJSON(ctx, client, cfg.baseURL+"/v1/auth/"+url.PathEscape(cfg.provider), &start); err != nil {
		return "", err
	}
	if start.State == "" {
		return "", fmt.Errorf("missing state in authorization response")
	}
	q := url.Values{}
	q.Set("code", "perf-"+uuid.NewString())
	q.Set("state", start.State)
	var tok authToken
	if err := getJSON(ctx, client, cfg.baseURL+"/v1/auth/"+url.PathEscape(cfg.provider)+"/callback?"+q.Encode(), &tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("missing access_token in callback response")
	}
	if cfg.verbose {
		fmt.Printf("perfassist: signed in user=%s provider=%s\n", tok.UserID, cfg.provider)
	}
	return tok.AccessToken, nil
}

func getJSON(ctx context.Context, client *http.Client, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func fetchStages(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	var raw json.RawMessage
	if err := getJSON(ctx, client, baseURL+"/v1/perf/latency", &raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

func wsURLFor(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ai/ws"
	u.RawQuery = ""
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, replies chan<- wsEnvelope, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		replies <- env
	}
}

// awaitReply waits for the frame answering requestID. System events and
// request-less error events answer an empty requestID.
func awaitReply(replies <-chan wsEnvelope, readErrCh <-chan error, requestID string, timeout time.Duration) (wsEnvelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case env := <-replies:
			if env.RequestID == requestID {
				return env, nil
			}
		case err := <-readErrCh:
			return wsEnvelope{}, err
		case <-timer.C:
			return wsEnvelope{}, fmt.Errorf("timeout after %s", timeout)
		}
	}
}

type latencySummary struct {
	count int
	p50   time.Duration
	p95   time.Duration
	max   time.Duration
}

func summarize(samples []time.Duration) latencySummary {
	if len(samples) == 0 {
		return latencySummary{}
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return latencySummary{
		count: len(sorted),
		p50:   percentile(sorted, 0.50),
		p95:   percentile(sorted, 0.95),
		max:   sorted[len(sorted)-1],
	}
}

// percentile uses nearest rank on an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted))*p+0.999999) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
