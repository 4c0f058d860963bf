package adapters

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"bank-recon/pkg/bank"
	"bank-recon/pkg/logging"
	metricsmem "bank-recon/pkg/metrics/memory"
	"bank-recon/pkg/resilience"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

var fixedNow = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

func testConfig(url string, mc *metricsmem.MemoryCollector) Config {
	config := Config{
		BaseURL:      url,
		ClientID:     "client",
		ClientSecret: "secret",
		APIKey:       "caixa-key",
		Timeout:      time.Second,
		Logger:       logging.NewNoOpLogger(),
		Clock:        func() time.Time { return fixedNow },
	}
	if mc != nil {
		config.Metrics = mc
	}
	return config
}

func testAccount() *bank.Account {
	exp := fixedNow.Add(time.Hour)
	return &bank.Account{
		ID:             1,
		CompanyID:      1,
		Branch:         "1234",
		Number:         "12345-6",
		AccessToken:    "tok",
		TokenExpiresAt: &exp,
	}
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   bank.Kind
	}{
		{401, bank.KindAuthentication},
		{403, bank.KindAuthentication},
		{404, bank.KindInvalidAccount},
		{408, bank.KindTimeout},
		{504, bank.KindTimeout},
		{429, bank.KindLimitExceeded},
		{400, bank.KindInvalidData},
		{422, bank.KindInvalidData},
		{502, bank.KindServiceUnavailable},
		{503, bank.KindServiceUnavailable},
		{500, bank.KindInternal},
		{418, bank.KindInternal},
	}
	for _, tt := range tests {
		if got := KindForStatus(tt.status); got != tt.want {
			t.Errorf("KindForStatus(%d): Expected %v, got %v", tt.status, tt.want, got)
		}
	}
}

func TestTransport_StatusMappedToBankCode(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusUnauthorized, `{"error":"nope"}`))
	defer srv.Close()

	mc := metricsmem.NewMemoryCollector()
	bb, err := NewBancoDoBrasil(testConfig(srv.URL, mc))
	if err != nil {
		t.Fatalf("NewBancoDoBrasil failed: %v", err)
	}

	_, err = bb.FetchBalance(context.Background(), testAccount())
	be, ok := bank.AsError(err)
	if !ok {
		t.Fatalf("Expected *bank.Error, got %v", err)
	}
	if be.Code != "BB001" || be.Kind != bank.KindAuthentication || be.Bank != bank.BancoDoBrasil {
		t.Errorf("Expected BB001 authentication, got %s %v bank=%s", be.Code, be.Kind, be.Bank)
	}
	if n := mc.Snapshot().BankCalls["001/balance/authentication"]; n != 1 {
		t.Errorf("Expected 1 recorded failed call, got %d", n)
	}
}

func TestTransport_BankCodeInBodyWins(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusBadRequest, `{"codigo":"ITAU006","mensagem":"limite diario"}`))
	defer srv.Close()

	itau, err := NewItau(testConfig(srv.URL, metricsmem.NewMemoryCollector()))
	if err != nil {
		t.Fatalf("NewItau failed: %v", err)
	}

	_, err = itau.FetchBalance(context.Background(), testAccount())
	be, ok := bank.AsError(err)
	if !ok {
		t.Fatalf("Expected *bank.Error, got %v", err)
	}
	if be.Code != "ITAU006" || be.Kind != bank.KindLimitExceeded {
		t.Errorf("Expected ITAU006 limit_exceeded, got %s %v", be.Code, be.Kind)
	}
	if be.Detail != "limite diario" {
		t.Errorf("Expected detail from body, got %q", be.Detail)
	}
}

func TestTransport_BreakerOpensOnServerFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	mc := metricsmem.NewMemoryCollector()
	config := testConfig(srv.URL, mc)
	config.Breaker = &resilience.CircuitBreakerConfig{
		Timeout:     time.Minute,
		ReadyToTrip: resilience.ConsecutiveFailures(2),
	}
	bb, err := NewBancoDoBrasil(config)
	if err != nil {
		t.Fatalf("NewBancoDoBrasil failed: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := bb.FetchBalance(ctx, testAccount()); !errors.Is(err, bank.ErrServiceUnavailable) {
			t.Fatalf("call %d: Expected service unavailable, got %v", i, err)
		}
	}

	_, err = bb.FetchBalance(ctx, testAccount())
	if !errors.Is(err, bank.ErrServiceUnavailable) {
		t.Errorf("Expected service unavailable from open breaker, got %v", err)
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Expected breaker rejection as cause, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Errorf("Expected open breaker to skip the bank (2 hits), got %d", n)
	}
	if state := mc.Snapshot().Circuits["bank-001"]; state.String() != "open" {
		t.Errorf("Expected circuit state open, got %v", state)
	}
}

func TestTransport_BusinessErrorsDoNotTrip(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	config := testConfig(srv.URL, metricsmem.NewMemoryCollector())
	config.Breaker = &resilience.CircuitBreakerConfig{ReadyToTrip: resilience.ConsecutiveFailures(2)}
	bb, _ := NewBancoDoBrasil(config)

	for i := 0; i < 4; i++ {
		_, err := bb.FetchBalance(context.Background(), testAccount())
		if !errors.Is(err, bank.ErrInvalidAccount) {
			t.Fatalf("call %d: Expected invalid account, got %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 4 {
		t.Errorf("Expected every call to reach the bank, got %d", n)
	}
}

func TestTransport_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	config := testConfig(srv.URL, metricsmem.NewMemoryCollector())
	config.Timeout = 50 * time.Millisecond
	bradesco, _ := NewBradesco(config)

	_, err := bradesco.FetchBalance(context.Background(), testAccount())
	be, ok := bank.AsError(err)
	if !ok || be.Kind != bank.KindTimeout {
		t.Fatalf("Expected timeout, got %v", err)
	}
	if be.Code != "BRAD009" {
		t.Errorf("Expected BRAD009, got %s", be.Code)
	}
}

func TestTransport_Unreachable(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(200, `{}`))
	url := srv.URL
	srv.Close()

	bb, _ := NewBancoDoBrasil(testConfig(url, metricsmem.NewMemoryCollector()))
	_, err := bb.FetchBalance(context.Background(), testAccount())
	if !errors.Is(err, bank.ErrCommunication) {
		t.Errorf("Expected communication error, got %v", err)
	}
}

func TestOAuthClientCredentials(t *testing.T) {
	var gotAuth, gotGrant string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		r.ParseForm()
		gotGrant = r.PostForm.Get("grant_type")
		jsonHandler(200, `{"access_token":"fresh","token_type":"bearer","expires_in":3600}`)(w, r)
	}))
	defer srv.Close()

	bb, _ := NewBancoDoBrasil(testConfig(srv.URL, metricsmem.NewMemoryCollector()))
	tok, err := bb.RefreshToken(context.Background(), testAccount())
	if err != nil {
		t.Fatalf("RefreshToken failed: %v", err)
	}
	if tok.AccessToken != "fresh" {
		t.Errorf("Expected token fresh, got %q", tok.AccessToken)
	}
	if tok.ExpiresAt.IsZero() {
		t.Error("Expected expiry to be set")
	}
	if gotGrant != "client_credentials" {
		t.Errorf("Expected client_credentials grant, got %q", gotGrant)
	}
	if gotAuth == "" {
		t.Error("Expected client credentials in Authorization header")
	}
}

func TestOAuthRejectedIsAuthentication(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusUnauthorized, `{"error":"invalid_client"}`))
	defer srv.Close()

	bradesco, _ := NewBradesco(testConfig(srv.URL, metricsmem.NewMemoryCollector()))
	_, err := bradesco.RefreshToken(context.Background(), testAccount())
	be, ok := bank.AsError(err)
	if !ok || be.Kind != bank.KindAuthentication {
		t.Fatalf("Expected authentication error, got %v", err)
	}
	if be.Code != "BRAD001" {
		t.Errorf("Expected BRAD001, got %s", be.Code)
	}
}

func TestValidationBeforeNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	config := testConfig(srv.URL, metricsmem.NewMemoryCollector())
	bb, _ := NewBancoDoBrasil(config)
	itau, _ := NewItau(config)
	inter, _ := NewInter(config)
	caixa, _ := NewCaixa(config)
	ctx := context.Background()

	start := fixedNow.AddDate(0, 0, -10)
	tests := []struct {
		name string
		call func() error
		code string
	}{
		{"inverted period", func() error {
			_, err := bb.FetchTransactions(ctx, testAccount(), fixedNow, start)
			return err
		}, bank.CodePeriodInverted},
		{"missing period", func() error {
			_, err := inter.FetchTransactions(ctx, testAccount(), time.Time{}, fixedNow)
			return err
		}, bank.CodePeriodMissing},
		{"period too long", func() error {
			_, err := itau.FetchTransactions(ctx, testAccount(), fixedNow.AddDate(0, 0, -91), fixedNow)
			return err
		}, bank.CodePeriodTooLong},
		{"bad account", func() error {
			acct := testAccount()
			acct.Number = "12a"
			_, err := caixa.FetchBalance(ctx, acct)
			return err
		}, bank.CodeAccountInvalid},
		{"bad branch", func() error {
			_, err := itau.FetchAccountDetails(ctx, "12", "12345-6")
			return err
		}, bank.CodeBranchInvalid},
		{"blank webhook", func() error {
			_, err := bb.RegisterWebhook(ctx, testAccount(), " ")
			return err
		}, bank.CodeWebhookURLMissing},
		{"relative webhook", func() error {
			_, err := caixa.RegisterWebhook(ctx, testAccount(), "/hooks")
			return err
		}, bank.CodeWebhookURLInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be, ok := bank.AsError(tt.call())
			if !ok {
				t.Fatal("Expected *bank.Error")
			}
			if be.Code != tt.code || be.Kind != bank.KindInvalidData {
				t.Errorf("Expected %s invalid_data, got %s %v", tt.code, be.Code, be.Kind)
			}
		})
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Errorf("Expected no network calls, got %d", n)
	}
}

func TestItau_Statement(t *testing.T) {
	var path, correlation, auth string
	var query map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		query = r.URL.Query()
		correlation = r.Header.Get("x-itau-correlationID")
		auth = r.Header.Get("Authorization")
		jsonHandler(200, `{"lancamentos":[
			{"id_lancamento":"L1","data_lancamento":"2024-01-10T09:30:00","valor":"150.25","tipo_operacao":"C","descricao":"PIX RECEBIDO"},
			{"id_lancamento":"L2","data_lancamento":"2024-01-11","valor":"-42.10","descricao":"TARIFA"}
		]}`)(w, r)
	}))
	defer srv.Close()

	itau, _ := NewItau(testConfig(srv.URL, metricsmem.NewMemoryCollector()))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	txs, err := itau.FetchTransactions(context.Background(), testAccount(), start, end)
	if err != nil {
		t.Fatalf("FetchTransactions failed: %v", err)
	}

	if path != "/api/v2/conta-corrente/1234123456/extrato" {
		t.Errorf("Expected account path, got %s", path)
	}
	if query["data_inicial"][0] != "2024-01-01" || query["data_final"][0] != "2024-01-31" {
		t.Errorf("Expected period query, got %v", query)
	}
	if correlation == "" {
		t.Error("Expected correlation id header")
	}
	if auth != "Bearer tok" {
		t.Errorf("Expected bearer token, got %q", auth)
	}

	if len(txs) != 2 {
		t.Fatalf("Expected 2 transactions, got %d", len(txs))
	}
	if txs[0].ExternalID != "L1" || txs[0].Direction != bank.Credit || !txs[0].Amount.Equal(decimal.RequireFromString("150.25")) {
		t.Errorf("Unexpected first transaction %+v", txs[0])
	}
	if !txs[0].PostedAt.Equal(time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("Expected zone-less time read as UTC, got %v", txs[0].PostedAt)
	}
	if txs[1].Direction != bank.Debit || !txs[1].Amount.Equal(decimal.RequireFromString("42.10")) {
		t.Errorf("Expected negative amount to become a debit, got %+v", txs[1])
	}
}

func TestItau_TokenIntrospection(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    bool
	}{
		{"active", jsonHandler(200, `{"active":true}`), true},
		{"inactive", jsonHandler(200, `{"active":false}`), false},
		{"introspection failed", jsonHandler(500, ``), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			itau, _ := NewItau(testConfig(srv.URL, metricsmem.NewMemoryCollector()))
			ok, err := itau.TokenValid(context.Background(), testAccount())
			if err != nil {
				t.Fatalf("TokenValid failed: %v", err)
			}
			if ok != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, ok)
			}
		})
	}
}

func TestTokenValid_LocalExpiry(t *testing.T) {
	bb, _ := NewBancoDoBrasil(testConfig("http://bank.invalid", metricsmem.NewMemoryCollector()))

	acct := testAccount()
	if ok, _ := bb.TokenValid(context.Background(), acct); !ok {
		t.Error("Expected token valid for an hour to be valid")
	}

	soon := fixedNow.Add(30 * time.Second)
	acct.TokenExpiresAt = &soon
	if ok, _ := bb.TokenValid(context.Background(), acct); ok {
		t.Error("Expected token inside the skew window to be invalid")
	}
}

func TestCaixa_APIKey(t *testing.T) {
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get(apiKeyHeader)
		jsonHandler(200, `{"dados":{"saldoDisponivel":"10.50","saldoTotal":"12.00","limite":"0"}}`)(w, r)
	}))
	defer srv.Close()

	caixa, err := NewCaixa(testConfig(srv.URL, metricsmem.NewMemoryCollector()))
	if err != nil {
		t.Fatalf("NewCaixa failed: %v", err)
	}

	bal, err := caixa.FetchBalance(context.Background(), testAccount())
	if err != nil {
		t.Fatalf("FetchBalance failed: %v", err)
	}
	if key != "caixa-key" {
		t.Errorf("Expected API key header, got %q", key)
	}
	if !bal.Total.Equal(decimal.RequireFromString("12.00")) {
		t.Errorf("Expected total 12.00, got %s", bal.Total)
	}

	tok, _ := caixa.RefreshToken(context.Background(), testAccount())
	if tok.AccessToken != "caixa-key" {
		t.Errorf("Expected key as token, got %q", tok.AccessToken)
	}

	config := testConfig(srv.URL, nil)
	config.APIKey = ""
	if _, err := NewCaixa(config); err == nil {
		t.Error("Expected error without API key")
	}
}

func TestRegisterWebhook(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"created", http.StatusCreated, true},
		{"accepted but not created", http.StatusOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(jsonHandler(tt.status, `{}`))
			defer srv.Close()

			bb, _ := NewBancoDoBrasil(testConfig(srv.URL, metricsmem.NewMemoryCollector()))
			ok, err := bb.RegisterWebhook(context.Background(), testAccount(), "https://example.com/hook")
			if err != nil {
				t.Fatalf("RegisterWebhook failed: %v", err)
			}
			if ok != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, ok)
			}
		})
	}
}

func TestInter_AccountDetails(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(200, `{"tipoConta":"POUPANCA","nome":"ACME LTDA","cpfCnpj":"123","status":"ATIVA"}`))
	defer srv.Close()

	inter, _ := NewInter(testConfig(srv.URL, metricsmem.NewMemoryCollector()))
	d, err := inter.FetchAccountDetails(context.Background(), "0001", "12345-6")
	if err != nil {
		t.Fatalf("FetchAccountDetails failed: %v", err)
	}
	if d.Branch != "0001" || d.Number != "12345-6" {
		t.Errorf("Expected requested branch/number echoed, got %s/%s", d.Branch, d.Number)
	}
	if d.Kind != bank.Savings || !d.Active || d.HolderName != "ACME LTDA" {
		t.Errorf("Unexpected details %+v", d)
	}
}

func TestParseWebhook(t *testing.T) {
	config := testConfig("http://bank.invalid", metricsmem.NewMemoryCollector())
	bb, _ := NewBancoDoBrasil(config)
	itau, _ := NewItau(config)
	bradesco, _ := NewBradesco(config)
	inter, _ := NewInter(config)
	caixa, _ := NewCaixa(config)

	tests := []struct {
		name    string
		gw      bank.Gateway
		payload string
		typ     bank.EventType
		account string
		amount  string
		wantErr bool
	}{
		{"bb transaction", bb,
			`{"tipo":"TRANSACAO","agencia":"1234","conta":"12345-6","idTransacao":"T1","data":"2024-01-10T10:00:00Z","valor":"99.90","tipoTransacao":"D","descricao":"BOLETO"}`,
			bank.EventTransactionPosted, "12345-6", "99.90", false},
		{"bb balance", bb,
			`{"tipo":"SALDO","agencia":"1234","conta":"12345-6","saldo":"1000.00"}`,
			bank.EventBalanceUpdated, "12345-6", "1000.00", false},
		{"itau transaction", itau,
			`{"evento":"TRANSACAO","agencia":"1234","conta":"123456","dados":{"id_lancamento":"L9","data_lancamento":"2024-01-10","valor":"5","tipo_operacao":"C"}}`,
			bank.EventTransactionPosted, "123456", "5", false},
		{"bradesco balance", bradesco,
			`{"tipoEvento":"SALDO","agencia":"1234","conta":"12345-6","saldo":"7.5"}`,
			bank.EventBalanceUpdated, "12345-6", "7.5", false},
		{"inter transaction", inter,
			`{"tipoEvento":"TRANSACAO","dadosEvento":{"conta":"99","idTransacao":"I1","dataEntrada":"2024-01-10","valor":"12","tipoOperacao":"C","titulo":"PIX"}}`,
			bank.EventTransactionPosted, "99", "12", false},
		{"caixa balance", caixa,
			`{"evento":"SALDO","conta":"12345-6","dados":{"saldo":"3"}}`,
			bank.EventBalanceUpdated, "12345-6", "3", false},
		{"unknown type kept", bb,
			`{"tipo":"CHEQUE_DEVOLVIDO","conta":"12345-6"}`,
			bank.EventType("CHEQUE_DEVOLVIDO"), "12345-6", "", false},
		{"malformed payload", bb, `{"tipo":`, "", "", "", true},
		{"balance without saldo", bradesco, `{"tipoEvento":"SALDO","conta":"1"}`, "", "", "", true},
		{"unknown direction", bb,
			`{"tipo":"TRANSACAO","conta":"1","idTransacao":"T1","data":"2024-01-10","valor":"1","tipoTransacao":"X"}`,
			"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := tt.gw.ParseWebhook([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, bank.ErrInvalidData) {
					t.Errorf("Expected invalid data, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseWebhook failed: %v", err)
			}
			if ev.Type != tt.typ || ev.AccountNumber != tt.account {
				t.Errorf("Expected %s on %s, got %s on %s", tt.typ, tt.account, ev.Type, ev.AccountNumber)
			}
			switch ev.Type {
			case bank.EventTransactionPosted:
				if ev.Transaction == nil || !ev.Transaction.Amount.Equal(decimal.RequireFromString(tt.amount)) {
					t.Errorf("Expected transaction amount %s, got %+v", tt.amount, ev.Transaction)
				}
			case bank.EventBalanceUpdated:
				if ev.Balance == nil || !ev.Balance.Total.Equal(decimal.RequireFromString(tt.amount)) {
					t.Errorf("Expected balance %s, got %+v", tt.amount, ev.Balance)
				}
			}
		})
	}
}

func TestNewTransport_Errors(t *testing.T) {
	if _, err := NewBancoDoBrasil(Config{}); err == nil {
		t.Error("Expected error without base URL")
	}

	config := testConfig("http://bank.invalid", nil)
	config.CertFile = filepath.Join(t.TempDir(), "missing.p12")
	if _, err := NewItau(config); err == nil {
		t.Error("Expected error for missing keystore")
	}

	bad := filepath.Join(t.TempDir(), "bad.p12")
	if err := os.WriteFile(bad, []byte("not a keystore"), 0o600); err != nil {
		t.Fatal(err)
	}
	config.CertFile = bad
	if _, err := NewInter(config); err == nil {
		t.Error("Expected error for corrupt keystore")
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-01-10T10:00:00Z", time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC), true},
		{"2024-01-10T10:00:00-03:00", time.Date(2024, 1, 10, 13, 0, 0, 0, time.UTC), true},
		{"2024-01-10 08:15:00", time.Date(2024, 1, 10, 8, 15, 0, 0, time.UTC), true},
		{"2024-01-10", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), true},
		{"10/01/2024", time.Time{}, false},
	}
	for _, tt := range tests {
		got, err := parseTime(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("parseTime(%q): Expected ok=%v, got err %v", tt.in, tt.ok, err)
			continue
		}
		if tt.ok && !got.Equal(tt.want) {
			t.Errorf("parseTime(%q): Expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestNew(t *testing.T) {
	for _, code := range []string{bank.BancoDoBrasil, bank.Itau, bank.Bradesco, bank.Inter, bank.Caixa} {
		gw, err := New(code, testConfig("http://bank.test", nil))
		if err != nil {
			t.Errorf("New(%s) failed: %v", code, err)
			continue
		}
		if gw.Code() != code {
			t.Errorf("Expected gateway %s, got %s", code, gw.Code())
		}
	}

	if _, err := New(bank.Santander, testConfig("http://bank.test", nil)); !errors.Is(err, bank.ErrUnsupportedBank) {
		t.Errorf("Expected unsupported bank, got %v", err)
	}
}
