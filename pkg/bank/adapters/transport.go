// Package adapters implements bank.Gateway for each supported bank. Every
// call goes through a transport that owns the HTTP client, the per-bank
// circuit breaker and the mapping of transport failures to the bank's codes.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"bank-recon/pkg/bank"
	"bank-recon/pkg/logging"
	"bank-recon/pkg/metrics"
	"bank-recon/pkg/resilience"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenSkew treats tokens expiring within this window as expired.
const DefaultTokenSkew = time.Minute

// maxErrorBody bounds how much of an error response is kept as detail.
const maxErrorBody = 512

// Config configures one bank adapter.
type Config struct {
	BaseURL string
	// TokenURL defaults to the bank's token path under BaseURL.
	TokenURL     string
	ClientID     string
	ClientSecret string
	// Scopes override the bank's default OAuth2 scopes.
	Scopes []string
	APIKey string

	// CertFile is a PKCS#12 keystore presented as client certificate.
	CertFile     string
	CertPassword string

	// Timeout bounds each HTTP call. Defaults to resilience.BankConfig().Timeout.
	Timeout time.Duration
	// MaxSpan bounds a statement window. Defaults to bank.DefaultMaxStatementSpan.
	MaxSpan   time.Duration
	TokenSkew time.Duration
	Breaker   *resilience.CircuitBreakerConfig

	HTTPClient *http.Client
	Metrics    metrics.BankMetrics
	Logger     *logging.Logger
	Clock      func() time.Time
}

// transport performs JSON calls against one bank.
type transport struct {
	code      string
	table     *bank.CodeTable
	baseURL   string
	client    *http.Client
	cb        *gobreaker.CircuitBreaker
	metrics   metrics.BankMetrics
	logger    *logging.Logger
	validator bank.Validator
	now       func() time.Time
	skew      time.Duration

	// decorate adds bank-specific headers to every request.
	decorate func(req *http.Request)
}

func newTransport(code, name string, config Config) (*transport, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("%s: base URL required", name)
	}
	defaults := resilience.BankConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	if config.Logger == nil {
		config.Logger = logging.Global()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.TokenSkew <= 0 {
		config.TokenSkew = DefaultTokenSkew
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
		if config.CertFile != "" {
			cert, err := LoadPKCS12(config.CertFile, config.CertPassword)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			client = MutualTLSClient(cert, config.Timeout)
		}
	}

	breaker := defaults.CircuitBreakerConfig
	if config.Breaker != nil {
		breaker = *config.Breaker
	}
	breaker.IsSuccessful = countsAgainstBreaker

	logger := config.Logger.Named("bank").With(zap.String("bank", code))

	return &transport{
		code:      code,
		table:     bank.TableFor(code),
		baseURL:   strings.TrimSuffix(config.BaseURL, "/"),
		client:    client,
		cb:        resilience.NewBreaker("bank-"+code, breaker, config.Metrics, logger),
		metrics:   config.Metrics,
		logger:    logger,
		validator: bank.Validator{MaxSpan: config.MaxSpan},
		now:       config.Clock,
		skew:      config.TokenSkew,
	}, nil
}

// countsAgainstBreaker treats answers from a reachable bank as successes:
// only transport failures, timeouts and 5xx responses open the circuit.
func countsAgainstBreaker(err error) bool {
	if err == nil {
		return true
	}
	switch bank.KindOf(err) {
	case bank.KindCommunication, bank.KindTimeout, bank.KindServiceUnavailable, bank.KindInternal:
		return false
	default:
		return true
	}
}

// request describes one JSON call.
type request struct {
	op     string
	method string
	path   string
	token  string
	body   any
	out    any
}

// call runs r through the breaker and returns the HTTP status on success.
func (t *transport) call(ctx context.Context, r request) (int, error) {
	started := time.Now()

	res, err := t.cb.Execute(func() (interface{}, error) {
		return t.roundTrip(ctx, r)
	})
	if err != nil {
		if resilience.IsBreakerRejection(err) {
			err = t.table.ErrorFor(bank.KindServiceUnavailable, "circuit open for "+r.op, err)
		}
		t.observe(r.op, err, started)
		return 0, err
	}

	t.observe(r.op, nil, started)
	return res.(int), nil
}

func (t *transport) observe(op string, err error, started time.Time) {
	kind := "ok"
	if err != nil {
		kind = bank.KindOf(err).String()
		t.logger.Warn("bank call failed",
			zap.String("operation", op),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
	t.metrics.RecordBankCall(t.code, op, kind, time.Since(started))
}

func (t *transport) roundTrip(ctx context.Context, r request) (int, error) {
	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return 0, t.table.ErrorFor(bank.KindInvalidData, "encode request: "+err.Error(), err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, t.baseURL+r.path, body)
	if err != nil {
		return 0, t.table.ErrorFor(bank.KindInternal, "build request: "+err.Error(), err)
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if t.decorate != nil {
		t.decorate(req)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, t.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, t.statusError(resp.StatusCode, data)
	}

	if r.out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(r.out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, t.table.ErrorFor(bank.KindInvalidData, "decode response: "+err.Error(), err)
		}
	}
	return resp.StatusCode, nil
}

// transportError maps a failure to reach the bank.
func (t *transport) transportError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return t.table.ErrorFor(bank.KindTimeout, err.Error(), err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return t.table.ErrorFor(bank.KindTimeout, err.Error(), err)
	default:
		return t.table.ErrorFor(bank.KindCommunication, err.Error(), err)
	}
}

// errorBody is the shape banks use to report their own codes.
type errorBody struct {
	Code     string `json:"code"`
	Codigo   string `json:"codigo"`
	Message  string `json:"message"`
	Mensagem string `json:"mensagem"`
}

// statusError maps an HTTP error response. A body carrying one of the bank's
// own codes wins over the status.
func (t *transport) statusError(status int, data []byte) error {
	var eb errorBody
	if json.Unmarshal(data, &eb) == nil {
		code := eb.Code
		if code == "" {
			code = eb.Codigo
		}
		msg := eb.Message
		if msg == "" {
			msg = eb.Mensagem
		}
		if _, ok := t.table.Lookup(code); ok {
			return t.table.Error(code, msg, nil)
		}
	}

	detail := fmt.Sprintf("HTTP %d", status)
	if s := strings.TrimSpace(string(data)); s != "" {
		detail += ": " + s
	}
	return t.table.ErrorFor(KindForStatus(status), detail, nil)
}

// KindForStatus maps an HTTP status answered by a bank to an error kind.
func KindForStatus(status int) bank.Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return bank.KindAuthentication
	case status == http.StatusNotFound:
		return bank.KindInvalidAccount
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return bank.KindTimeout
	case status == http.StatusTooManyRequests:
		return bank.KindLimitExceeded
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity, status == http.StatusConflict:
		return bank.KindInvalidData
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable:
		return bank.KindServiceUnavailable
	default:
		return bank.KindInternal
	}
}

// tokenExpired checks the stored token locally.
func (t *transport) tokenExpired(acct *bank.Account) bool {
	return acct.TokenExpired(t.now(), t.skew)
}

// clientCredentials exchanges client credentials for a token. The request
// uses the transport's HTTP client, so a client certificate is presented
// when one is configured.
func (t *transport) clientCredentials(ctx context.Context, cc *clientcredentials.Config) (*bank.Token, error) {
	started := time.Now()
	const op = "token"

	res, err := t.cb.Execute(func() (interface{}, error) {
		tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, t.client))
		if err != nil {
			return nil, t.tokenError(err)
		}
		return tok, nil
	})
	if err != nil {
		if resilience.IsBreakerRejection(err) {
			err = t.table.ErrorFor(bank.KindServiceUnavailable, "circuit open for token", err)
		}
		t.observe(op, err, started)
		return nil, err
	}
	t.observe(op, nil, started)

	tok := res.(*oauth2.Token)
	out := &bank.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
	if out.ExpiresAt.IsZero() {
		out.ExpiresAt = t.now().Add(time.Hour)
	}
	t.logger.Debug("token issued",
		logging.Mask("access_token", out.AccessToken),
		zap.Time("expires_at", out.ExpiresAt),
	)
	return out, nil
}

func (t *transport) tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		detail := fmt.Sprintf("token endpoint answered HTTP %d", status)
		if re.ErrorCode != "" {
			detail += ": " + re.ErrorCode
		}
		if status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden {
			return t.table.ErrorFor(bank.KindAuthentication, detail, err)
		}
		return t.table.ErrorFor(KindForStatus(status), detail, err)
	}
	return t.transportError(err)
}

// dateLayout is how statement windows are sent to banks.
const dateLayout = "2006-01-02"
