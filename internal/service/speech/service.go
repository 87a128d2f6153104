package speech

import (
	"context"
	"strings"
	"time"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/speech"
	"github.com/zhouzirui/polyglot-chat/backend/internal/service/transcription"
)

// Service 聚合语音识别与语音合成，共用同一个拨号器
type Service struct {
	config      *speech.SpeechConfig
	dialer      *Dialer
	recognizer  *VolcengineRecognizer
	synthesizer *VolcengineSynthesizer
}

// NewService 创建语音服务实例
func NewService(config *speech.SpeechConfig) *Service {
	options := DefaultDialOptions()
	if config.Timeout > 0 {
		options.HandshakeTimeout = time.Duration(config.Timeout) * time.Second
	}
	if config.DialRetries > 0 {
		options.MaxRetries = config.DialRetries
	}
	dialer := NewDialer(options)

	return &Service{
		config:      config,
		dialer:      dialer,
		recognizer:  NewVolcengineRecognizer(config, dialer),
		synthesizer: NewVolcengineSynthesizer(config, dialer),
	}
}

// Enabled 凭证齐全时才可用
func (s *Service) Enabled() bool {
	return s != nil && Enabled(s.config)
}

// Recognizer 返回流式识别器，供转写桥接使用
func (s *Service) Recognizer() transcription.Recognizer {
	return s.recognizer
}

// SynthesizeSpeech 文字转语音
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if strings.TrimSpace(req.Format) == "" {
		req.Format = s.config.TTSFormat
	}
	return s.synthesizer.SynthesizeSpeech(ctx, req)
}

// Synthesize 以指定语言朗读文本
func (s *Service) Synthesize(ctx context.Context, text, languageCode string) ([]byte, string, error) {
	return s.synthesizer.Synthesize(ctx, text, languageCode)
}
