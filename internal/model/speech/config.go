package speech

// SpeechConfig 语音服务配置
type SpeechConfig struct {
	// Volcengine 凭证
	AppID          string `json:"appId"`
	AccessToken    string `json:"accessToken"`
	APIKey         string `json:"apiKey,omitempty"` // 兼容旧配置
	ConcurrentMode bool   `json:"concurrentMode"`   // ASR 并发版（false 为小时版）

	// 端点，留空使用默认地址
	ASREndpoint string `json:"asrEndpoint,omitempty"`
	TTSEndpoint string `json:"ttsEndpoint,omitempty"`

	// ASR 配置
	ASRModel      string `json:"asrModel"`
	EndWindowSize int    `json:"endWindowSize"` // 判停静音窗口（毫秒）

	// TTS 配置
	TTSVoice  string            `json:"ttsVoice"`
	TTSSpeed  float32           `json:"ttsSpeed"`
	TTSVolume float32           `json:"ttsVolume"`
	TTSFormat string            `json:"ttsFormat"`
	Voices    map[string]string `json:"voices,omitempty"` // 语言前缀 -> 音色

	// 通用配置
	Timeout     int `json:"timeout"`     // seconds
	DialRetries int `json:"dialRetries"` // 建连失败后的最大重试次数
}
