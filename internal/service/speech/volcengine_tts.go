package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/speech"
)

// DefaultTTSEndpoint 单向流式合成
const DefaultTTSEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

// ErrEmptyText 合成文本为空
var ErrEmptyText = errors.New("TTS text is empty")

// defaultVoices 按语言前缀选择音色，未命中时使用配置中的 TTSVoice
var defaultVoices = map[string]string{
	"zh": "zh_female_vv_uranus_bigtts",
	"en": "en_female_amy_jupiter_bigtts",
	"ja": "multi_female_gaolengyujie_moon_bigtts",
	"es": "multi_male_jingqiangkanye_moon_bigtts",
}

// VolcengineSynthesizer 火山引擎TTS WebSocket客户端
type VolcengineSynthesizer struct {
	config *speech.SpeechConfig
	dialer *Dialer
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

// NewVolcengineSynthesizer 创建语音合成客户端
func NewVolcengineSynthesizer(config *speech.SpeechConfig, dialer *Dialer) *VolcengineSynthesizer {
	if dialer == nil {
		dialer = NewDialer(DefaultDialOptions())
	}
	return &VolcengineSynthesizer{config: config, dialer: dialer}
}

type volcengineTTSRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string                   `json:"speaker"`
		Text        string                   `json:"text"`
		AudioParams volcengineTTSAudioParams `json:"audio_params"`
		Language    string                   `json:"language,omitempty"`
	} `json:"req_params"`
}

type volcengineTTSAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

// Synthesize 以接收者语言朗读文本，返回音频与格式
func (c *VolcengineSynthesizer) Synthesize(ctx context.Context, text, languageCode string) ([]byte, string, error) {
	resp, err := c.SynthesizeSpeech(ctx, &speech.TTSRequest{Text: text, Language: languageCode})
	if err != nil {
		return nil, "", err
	}
	return resp.AudioData, resp.Format, nil
}

// SynthesizeSpeech 依次尝试候选音色与资源ID，直到一次合成成功
func (c *VolcengineSynthesizer) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	appKey, accessKey, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	encoding := normalizeFormat(req.Format, c.config.TTSFormat)
	speakers := resolveTTSSpeakerCandidates(
		strings.TrimSpace(req.Voice),
		c.voiceForLanguage(req.Language),
		strings.TrimSpace(c.config.TTSVoice),
	)
	if len(speakers) == 0 {
		return nil, fmt.Errorf("TTS synthesis failed: no voice configured for language %q", req.Language)
	}

	var lastMismatch error
	for _, speaker := range speakers {
		for _, resourceID := range resolveTTSResourceCandidates(speaker) {
			resp, attemptErr := c.synthesizeWithResource(ctx, req, appKey, accessKey, speaker, encoding, resourceID)
			if attemptErr == nil {
				return resp, nil
			}
			if !isResourceMismatchError(attemptErr) {
				return nil, attemptErr
			}
			log.Printf("[TTS] voice %s resource %s mismatch: %v", speaker, resourceID, attemptErr)
			lastMismatch = attemptErr
		}
	}

	return nil, fmt.Errorf("TTS synthesis failed for voices %v: %w", speakers, lastMismatch)
}

func (c *VolcengineSynthesizer) synthesizeWithResource(
	ctx context.Context,
	req *speech.TTSRequest,
	appKey, accessKey, speaker, encoding, resourceID string,
) (*speech.TTSResponse, error) {
	header, connectID := authHeader(appKey, accessKey, resourceID, "")

	endpoint := strings.TrimSpace(c.config.TTSEndpoint)
	if endpoint == "" {
		endpoint = DefaultTTSEndpoint
	}

	conn, err := c.dialer.DialWithRetry(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS WebSocket: %w", err)
	}
	defer conn.Close()

	// 阻塞读取时响应取消
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = connectID
	}

	payload, err := json.Marshal(c.buildTTSRequest(req, sessionID, speaker, encoding))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}
	if err := c.dialer.writeFrame(conn, CreateFullClientRequest(payload, NoCompression)); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}

	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)

	for {
		msg, payload, err := readFrame(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var serverErr *ServerError
			if errors.As(err, &serverErr) {
				return nil, fmt.Errorf("TTS error: %s", serverErr.Message)
			}
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}

		switch msg.Header.MessageType {
		case AudioOnlyServerResponse:
			audio.Write(payload)

		case FullServerResponse:
			var serverResp ttsServerMessage
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &serverResp); err != nil {
					log.Printf("[TTS] failed to unmarshal response payload: %v", err)
				} else {
					if serverResp.Code != 0 && serverResp.Code != 3000 && serverResp.Code != 20000000 {
						return nil, fmt.Errorf("TTS API error %d: %s", serverResp.Code, serverResp.Message)
					}
					if serverResp.ReqID != "" {
						reqID = serverResp.ReqID
					}
					if parsed, err := parseDuration(serverResp.Addition.Duration); err == nil && parsed > 0 {
						duration = parsed
					}
					if serverResp.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(serverResp.Data)
						if err != nil {
							return nil, fmt.Errorf("failed to decode base64 audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

			finalizedByEvent := msg.Header.MessageFlags&WithEvent == WithEvent && msg.EventType == EventTypeSessionFinished
			if finalizedByEvent || msg.IsLastPacket() || serverResp.Sequence < 0 {
				if audio.Len() == 0 {
					return nil, fmt.Errorf("TTS audio is empty")
				}
				if reqID == "" {
					reqID = connectID
				}
				return &speech.TTSResponse{
					SessionID: sessionID,
					AudioData: audio.Bytes(),
					Duration:  duration,
					Format:    encoding,
					Voice:     speaker,
					RequestID: reqID,
					CreatedAt: time.Now(),
				}, nil
			}

		default:
			log.Printf("[TTS] unexpected message type: %d", msg.Header.MessageType)
		}
	}
}

// buildTTSRequest 构建符合火山引擎API格式的TTS请求
func (c *VolcengineSynthesizer) buildTTSRequest(req *speech.TTSRequest, uid, speaker, encoding string) *volcengineTTSRequest {
	ttsReq := &volcengineTTSRequest{}
	ttsReq.User.UID = uid
	ttsReq.ReqParams.Speaker = speaker
	ttsReq.ReqParams.Text = req.Text
	ttsReq.ReqParams.AudioParams.Format = encoding
	ttsReq.ReqParams.AudioParams.SampleRate = 24000

	speed := req.Speed
	if speed <= 0 {
		speed = c.config.TTSSpeed
	}
	if speed > 0 && speed != 1.0 {
		ttsReq.ReqParams.AudioParams.SpeedRatio = speed
	}

	volume := req.Volume
	if volume <= 0 {
		volume = c.config.TTSVolume
	}
	if volume > 0 && volume != 1.0 {
		ttsReq.ReqParams.AudioParams.VolumeRatio = volume
	}

	ttsReq.ReqParams.Language = ttsLanguage(req.Language)
	return ttsReq
}

// voiceForLanguage 先查配置的语言音色表，再查内置表
func (c *VolcengineSynthesizer) voiceForLanguage(language string) string {
	prefix := languagePrefix(language)
	if prefix == "" {
		return ""
	}
	if voice, ok := c.config.Voices[prefix]; ok {
		return strings.TrimSpace(voice)
	}
	return defaultVoices[prefix]
}

// languagePrefix 把 hi-IN、HI、hi 统一为 hi
func languagePrefix(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if idx := strings.IndexAny(language, "-_"); idx > 0 {
		language = language[:idx]
	}
	return language
}

// ttsLanguage 服务端使用 zh、en 等短代码
func ttsLanguage(language string) string {
	return languagePrefix(language)
}

func normalizeFormat(requested, fallback string) string {
	format := strings.ToLower(strings.TrimSpace(requested))
	if format == "" {
		format = strings.ToLower(strings.TrimSpace(fallback))
	}
	switch format {
	case "", "wav":
		return "mp3"
	default:
		return format
	}
}

func resolveTTSResourceCandidates(voice string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if voice == "" {
		return []string{defaultResource, seedResource}
	}

	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "moon", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}

	return []string{defaultResource, seedResource}
}

// resolveTTSSpeakerCandidates 去重保序，忽略空值
func resolveTTSSpeakerCandidates(voices ...string) []string {
	var candidates []string
	for _, v := range voices {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		dup := false
		for _, existing := range candidates {
			if strings.EqualFold(existing, v) {
				dup = true
				break
			}
		}
		if !dup {
			candidates = append(candidates, v)
		}
	}
	return candidates
}

func isResourceMismatchError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}

// parseDuration 解析时长字符串（毫秒）
func parseDuration(durationStr string) (int64, error) {
	if durationStr == "" {
		return 0, nil
	}
	return strconv.ParseInt(durationStr, 10, 64)
}
