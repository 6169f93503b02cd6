package membership

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/smysle/sakura-redenvelope-go/pkg/logger"
)

// HTTPChecker 调用外部成员服务：GET {base}/conversations/{cid}/members/{uid}
type HTTPChecker struct {
	baseURL    string
	httpClient *resty.Client
}

type memberResponse struct {
	Member bool `json:"member"`
}

// NewHTTPChecker 创建 HTTP 成员校验
func NewHTTPChecker(baseURL, token string, timeout time.Duration) *HTTPChecker {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(200 * time.Millisecond)
	client.SetHeaders(map[string]string{
		"Accept":     "application/json",
		"User-Agent": "SakuraRedEnvelope/1.0 Go",
	})
	if token != "" {
		client.SetAuthToken(token)
	}

	return &HTTPChecker{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: client,
	}
}

// IsMember 实现 Checker，404 视为非成员
func (h *HTTPChecker) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/conversations/%s/members/%s",
		h.baseURL, url.PathEscape(conversationID), url.PathEscape(userID))

	var result memberResponse
	resp, err := h.httpClient.R().
		SetContext(ctx).
		SetResult(&result).
		Get(endpoint)
	if err != nil {
		logger.Error().Err(err).Str("url", endpoint).Msg("成员服务请求失败")
		return false, fmt.Errorf("成员服务请求失败: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return result.Member, nil
	case http.StatusNotFound:
		return false, nil
	}

	logger.Warn().Str("url", endpoint).Int("status", resp.StatusCode()).Msg("成员服务返回异常")
	return false, fmt.Errorf("成员服务返回 HTTP %d", resp.StatusCode())
}
