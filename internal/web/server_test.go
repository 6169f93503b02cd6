package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smysle/sakura-redenvelope-go/internal/config"
	"github.com/smysle/sakura-redenvelope-go/internal/database/repository"
	"github.com/smysle/sakura-redenvelope-go/internal/membership"
	"github.com/smysle/sakura-redenvelope-go/internal/service"
	"github.com/smysle/sakura-redenvelope-go/pkg/currency"
)

const testSecret = "test-secret"

type testEnv struct {
	server *Server
	now    time.Time
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.API.JWTSecret = secret
	cfg.RedEnvelope.Enabled = true

	env := &testEnv{now: time.Now()}
	currencies := currency.NewRegistry(cfg.Currencies)
	deps := service.Deps{
		Store: repository.NewMemoryRedEnvelopeRepository(),
		Members: membership.NewStaticChecker(map[string][]string{
			"room-a":  {"*"},
			"private": {"alice"},
		}),
		Splitter:   service.NewSplitter(service.NewRandSource(1), currencies),
		Currencies: currencies,
		Config:     cfg.RedEnvelope,
		Clock:      func() time.Time { return env.now },
	}
	env.server = New(&cfg.API, Services{
		Envelopes:  service.NewEnvelopeService(deps),
		Claims:     service.NewClaimProcessor(deps),
		Currencies: currencies,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	out := map[string]interface{}{}
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("响应不是 JSON: %s", data)
		}
	}
	return resp.StatusCode, out
}

func as(user string) map[string]string {
	return map[string]string{"X-User-ID": user, "X-User-Name": user}
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, "")

	code, body := env.do(t, http.MethodGet, "/health", "", nil)
	if code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("GET /health = %d %v", code, body)
	}

	code, body = env.do(t, http.MethodGet, "/status", "", nil)
	if code != http.StatusOK || body["version"] != Version {
		t.Errorf("GET /status = %d %v", code, body)
	}
	if db, _ := body["database"].(map[string]interface{}); db["driver"] != "memory" || db["connected"] != true {
		t.Errorf("GET /status database = %v", body["database"])
	}
}

func TestServer_EnvelopeFlow(t *testing.T) {
	env := newTestEnv(t, "")

	code, created := env.do(t, http.MethodPost, "/api/v1/envelopes",
		`{"conversation_id":"room-a","total_amount":"10","currency":"CNY","recipient_count":2,"strategy":"random"}`,
		as("sender"))
	if code != http.StatusCreated {
		t.Fatalf("创建红包 = %d %v", code, created)
	}
	if created["total_amount"] != "10.00" || created["remaining_amount"] != "10.00" || created["status"] != "active" || created["closed"] != false {
		t.Errorf("创建结果 = %v", created)
	}
	id := created["id"].(string)

	code, first := env.do(t, http.MethodPost, "/api/v1/envelopes/"+id+"/claim", "", as("alice"))
	if code != http.StatusOK {
		t.Fatalf("第一次领取 = %d %v", code, first)
	}

	code, _ = env.do(t, http.MethodPost, "/api/v1/envelopes/"+id+"/claim", "", as("alice"))
	if code != http.StatusConflict {
		t.Errorf("重复领取 = %d, want 409", code)
	}

	code, second := env.do(t, http.MethodPost, "/api/v1/envelopes/"+id+"/claim", "", as("bob"))
	if code != http.StatusOK || second["is_finished"] != true {
		t.Fatalf("第二次领取 = %d %v", code, second)
	}

	code, _ = env.do(t, http.MethodPost, "/api/v1/envelopes/"+id+"/claim", "", as("carol"))
	if code != http.StatusConflict {
		t.Errorf("抢完后领取 = %d, want 409", code)
	}

	code, details := env.do(t, http.MethodGet, "/api/v1/envelopes/"+id, "", as("alice"))
	if code != http.StatusOK {
		t.Fatalf("查询详情 = %d %v", code, details)
	}
	if details["caller_has_claimed"] != true || details["claimable"] != false {
		t.Errorf("详情 = %v", details)
	}
	if envelope, _ := details["envelope"].(map[string]interface{}); envelope["closed"] != true {
		t.Errorf("抢完的红包应标记为 closed: %v", details["envelope"])
	}
	if claims, _ := details["claims"].([]interface{}); len(claims) != 2 {
		t.Errorf("领取记录 = %v", details["claims"])
	}
	if details["lucky_claim"] == nil {
		t.Error("拼手气红包抢完后应有手气最佳")
	}
}

func TestServer_Errors(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		header map[string]string
		want   int
	}{
		{"缺少身份", http.MethodPost, "/api/v1/envelopes", `{}`, nil, http.StatusUnauthorized},
		{"请求体错误", http.MethodPost, "/api/v1/envelopes", `{"total_amount":`, as("alice"), http.StatusBadRequest},
		{"参数错误", http.MethodPost, "/api/v1/envelopes", `{"conversation_id":"room-a","total_amount":"0","recipient_count":1}`, as("alice"), http.StatusBadRequest},
		{"非成员", http.MethodPost, "/api/v1/envelopes", `{"conversation_id":"private","total_amount":"1","recipient_count":1}`, as("bob"), http.StatusForbidden},
		{"红包不存在", http.MethodPost, "/api/v1/envelopes/missing/claim", "", as("alice"), http.StatusNotFound},
		{"详情不存在", http.MethodGet, "/api/v1/envelopes/missing", "", as("alice"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, tt.method, tt.path, tt.body, tt.header)
			if code != tt.want {
				t.Errorf("状态码 = %d, want %d (%v)", code, tt.want, body)
			}
			if body["error"] == nil {
				t.Errorf("错误响应缺少 error 字段: %v", body)
			}
		})
	}
}

func TestServer_ExpiredClaim(t *testing.T) {
	env := newTestEnv(t, "")

	_, created := env.do(t, http.MethodPost, "/api/v1/envelopes",
		`{"conversation_id":"room-a","total_amount":5,"recipient_count":2}`, as("sender"))
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("创建红包失败: %v", created)
	}

	env.now = env.now.Add(25 * time.Hour)
	code, body := env.do(t, http.MethodPost, "/api/v1/envelopes/"+id+"/claim", "", as("alice"))
	if code != http.StatusBadRequest {
		t.Errorf("过期领取 = %d %v, want 400", code, body)
	}
}

func TestServer_JWT(t *testing.T) {
	env := newTestEnv(t, testSecret)

	token, err := SignToken(testSecret, "alice", "Alice", time.Hour)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}
	forged, _ := SignToken("other-secret", "alice", "Alice", time.Hour)
	expired, _ := SignToken(testSecret, "alice", "Alice", -time.Hour)

	body := `{"conversation_id":"private","total_amount":"1.00","recipient_count":1}`
	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"有效令牌", map[string]string{"Authorization": "Bearer " + token}, http.StatusCreated},
		{"缺少令牌", nil, http.StatusUnauthorized},
		{"开发头无效", as("alice"), http.StatusUnauthorized},
		{"签名错误", map[string]string{"Authorization": "Bearer " + forged}, http.StatusUnauthorized},
		{"令牌过期", map[string]string{"Authorization": "Bearer " + expired}, http.StatusUnauthorized},
		{"格式错误", map[string]string{"Authorization": token}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := env.do(t, http.MethodPost, "/api/v1/envelopes", body, tt.header)
			if code != tt.want {
				t.Errorf("状态码 = %d, want %d (%v)", code, tt.want, resp)
			}
			if tt.want == http.StatusCreated && resp["sender_id"] != "alice" {
				t.Errorf("sender_id = %v, want alice", resp["sender_id"])
			}
		})
	}
}

func TestParseToken(t *testing.T) {
	if _, err := SignToken("", "alice", "", time.Hour); err == nil {
		t.Error("未配置密钥时不应签发令牌")
	}

	token, _ := SignToken(testSecret, "alice", "Alice", time.Hour)
	claims, err := parseToken(testSecret, token)
	if err != nil {
		t.Fatalf("parseToken() error = %v", err)
	}
	if claims.Subject != "alice" || claims.Name != "Alice" {
		t.Errorf("claims = %+v", claims)
	}

	noSubject, _ := SignToken(testSecret, "", "", time.Hour)
	if _, err := parseToken(testSecret, noSubject); err == nil {
		t.Error("缺少 sub 的令牌应该无效")
	}
}
