package speech

import (
	"testing"

	speechmodel "github.com/zhouzirui/polyglot-chat/backend/internal/model/speech"
)

func TestServiceEnabled(t *testing.T) {
	if NewService(&speechmodel.SpeechConfig{}).Enabled() {
		t.Error("service without credentials should be disabled")
	}

	svc := NewService(&speechmodel.SpeechConfig{AppID: "app", APIKey: "legacy-key", Timeout: 5, DialRetries: 1})
	if !svc.Enabled() {
		t.Error("legacy api key should count as access token")
	}
	if svc.dialer.options.MaxRetries != 1 {
		t.Errorf("dial retries = %d", svc.dialer.options.MaxRetries)
	}
	if svc.Recognizer() == nil {
		t.Error("recognizer missing")
	}

	var nilSvc *Service
	if nilSvc.Enabled() {
		t.Error("nil service should be disabled")
	}
}
