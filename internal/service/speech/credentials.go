package speech

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	speechmodel "github.com/zhouzirui/polyglot-chat/backend/internal/model/speech"
)

// ErrMissingCredentials 表示未配置 AppID 或 AccessToken。
var ErrMissingCredentials = errors.New("火山引擎语音配置缺少 AppID 或 AccessToken")

// resolveCredentials 返回规范化后的 AppID 与 AccessToken，缺失时给出明确错误。
func resolveCredentials(cfg *speechmodel.SpeechConfig) (string, string, error) {
	if cfg == nil {
		return "", "", ErrMissingCredentials
	}

	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}

	if appID == "" || token == "" {
		return "", "", ErrMissingCredentials
	}

	return appID, token, nil
}

// Enabled 判断配置是否足以连接语音服务。
func Enabled(cfg *speechmodel.SpeechConfig) bool {
	_, _, err := resolveCredentials(cfg)
	return err == nil
}

// authHeader 构建握手请求头，connectID 为空时自动生成
func authHeader(appID, token, resourceID, connectID string) (http.Header, string) {
	if connectID == "" {
		connectID = uuid.NewString()
	}
	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)
	return header, connectID
}
