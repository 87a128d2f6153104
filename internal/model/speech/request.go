package speech

import "time"

// TTSRequest 语音合成请求
type TTSRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`    // 声音类型，留空按语言选择
	Speed     float32 `json:"speed"`    // 语速倍率 0.5-2.0
	Volume    float32 `json:"volume"`   // 音量 0.0-1.0
	Format    string  `json:"format"`   // mp3, ogg_opus, pcm
	Language  string  `json:"language"` // hi-IN, en-US 或前端代码 hi, en
}

// TTSResponse 合成结果；AudioData 不参与 JSON 序列化
type TTSResponse struct {
	SessionID string    `json:"sessionId"`
	Format    string    `json:"format"`
	Voice     string    `json:"voice"`
	Duration  int64     `json:"duration"` // ms，服务端未返回时为 0
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	AudioData []byte    `json:"-"`
}
