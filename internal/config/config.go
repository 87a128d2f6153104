package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	speechModel "github.com/zhouzirui/polyglot-chat/backend/internal/model/speech"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Translation TranslationConfig
	AI          AIConfig
	Speech      SpeechConfig
	Realtime    RealtimeConfig
	UsersFile   string
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	translation, err := loadTranslationConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	realtime, err := loadRealtimeConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:      server,
		Store:       store,
		Translation: translation,
		AI:          ai,
		Speech:      speech,
		Realtime:    realtime,
		UsersFile:   strings.TrimSpace(os.Getenv("USERS_FILE")),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// 消息存储后端
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
	StoreNATS   = "nats"
)

// StoreConfig 描述消息日志的存储后端。
type StoreConfig struct {
	Driver        string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
	NATSURL       string
	NATSStream    string
	NATSMaxAge    time.Duration
}

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORE_DRIVER", StoreMemory))
	switch driver {
	case StoreMemory, StoreSQLite, StoreMongo, StoreNATS:
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value %q: want memory, sqlite, mongo or nats", driver)
	}

	maxAge, err := parseDurationEnv("NATS_MAX_AGE", 0)
	if err != nil {
		return StoreConfig{}, err
	}

	cfg := StoreConfig{
		Driver:        driver,
		SQLitePath:    getEnvOrDefault("SQLITE_PATH", "data/chat.db"),
		MongoURI:      strings.TrimSpace(os.Getenv("MONGO_URI")),
		MongoDatabase: getEnvOrDefault("MONGO_DB", "polyglot_chat"),
		NATSURL:       getEnvOrDefault("NATS_URL", "nats://127.0.0.1:4222"),
		NATSStream:    getEnvOrDefault("NATS_STREAM", "CHAT_LOG"),
		NATSMaxAge:    maxAge,
	}
	if cfg.Driver == StoreMongo && cfg.MongoURI == "" {
		return StoreConfig{}, fmt.Errorf("STORE_DRIVER=mongo requires MONGO_URI")
	}
	return cfg, nil
}

// 翻译后端
const (
	TranslationAuto    = "auto"
	TranslationHTTPAPI = "httpapi"
	TranslationLLM     = "llm"
	TranslationNoop    = "noop"
)

// TranslationConfig 描述翻译服务配置。
type TranslationConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// ResolveProvider 在 auto 模式下按可用凭证选择后端：先 HTTP API，再大模型，最后原文直出。
func (c TranslationConfig) ResolveProvider(ai AIConfig) string {
	if c.Provider != TranslationAuto {
		return c.Provider
	}
	switch {
	case c.APIKey != "":
		return TranslationHTTPAPI
	case ai.Enabled():
		return TranslationLLM
	default:
		return TranslationNoop
	}
}

func loadTranslationConfig() (TranslationConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("TRANSLATION_PROVIDER", TranslationAuto))
	switch provider {
	case TranslationAuto, TranslationHTTPAPI, TranslationLLM, TranslationNoop:
	default:
		return TranslationConfig{}, fmt.Errorf("invalid TRANSLATION_PROVIDER value %q", provider)
	}

	timeout, err := parseDurationEnv("TRANSLATION_TIMEOUT", 8*time.Second)
	if err != nil {
		return TranslationConfig{}, err
	}

	cfg := TranslationConfig{
		Provider: provider,
		APIKey:   strings.TrimSpace(os.Getenv("TRANSLATEPLUS_API_KEY")),
		BaseURL:  getEnvOrDefault("TRANSLATION_BASE_URL", "https://api.translateplus.io"),
		Timeout:  timeout,
	}
	if cfg.Provider == TranslationHTTPAPI && cfg.APIKey == "" {
		return TranslationConfig{}, fmt.Errorf("TRANSLATION_PROVIDER=httpapi requires TRANSLATEPLUS_API_KEY")
	}
	return cfg, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	AppID          string
	AccessToken    string
	APIKey         string
	ConcurrentMode bool
	ASREndpoint    string
	TTSEndpoint    string
	ASRModel       string
	EndWindowSize  int
	TTSVoice       string
	TTSSpeed       float32
	TTSVolume      float32
	TTSFormat      string
	Voices         map[string]string
	Timeout        int
	DialRetries    int
	Enabled        bool
}

// Model 转换为语音服务使用的配置结构
func (c SpeechConfig) Model() *speechModel.SpeechConfig {
	return &speechModel.SpeechConfig{
		AppID:          c.AppID,
		AccessToken:    c.AccessToken,
		APIKey:         c.APIKey,
		ConcurrentMode: c.ConcurrentMode,
		ASREndpoint:    c.ASREndpoint,
		TTSEndpoint:    c.TTSEndpoint,
		ASRModel:       c.ASRModel,
		EndWindowSize:  c.EndWindowSize,
		TTSVoice:       c.TTSVoice,
		TTSSpeed:       c.TTSSpeed,
		TTSVolume:      c.TTSVolume,
		TTSFormat:      c.TTSFormat,
		Voices:         c.Voices,
		Timeout:        c.Timeout,
		DialRetries:    c.DialRetries,
	}
}

func loadSpeechConfig() (SpeechConfig, error) {
	// 解析超时设置
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	retries, err := parseOptionalIntEnv("SPEECH_DIAL_RETRIES")
	if err != nil {
		return SpeechConfig{}, err
	}
	dialRetries := 3
	if retries != nil && *retries >= 0 {
		dialRetries = *retries
	}

	// 解析TTS速度和音量
	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0) // 默认1.0倍速
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0) // 默认1.0音量
	if volume != nil {
		ttsVolume = *volume
	}

	endWindow, err := parseOptionalIntEnv("SPEECH_ASR_END_WINDOW")
	if err != nil {
		return SpeechConfig{}, err
	}
	endWindowSize := 800
	if endWindow != nil {
		endWindowSize = *endWindow
	}

	concurrent, err := parseBoolEnv("SPEECH_ASR_CONCURRENT", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	voices, err := parseVoicesEnv("SPEECH_TTS_VOICES")
	if err != nil {
		return SpeechConfig{}, err
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if accessToken == "" {
		accessToken = apiKey
	}

	enabled := appID != "" && accessToken != ""

	return SpeechConfig{
		AppID:          appID,
		AccessToken:    accessToken,
		APIKey:         apiKey,
		ConcurrentMode: concurrent,
		ASREndpoint:    getEnvOrDefault("SPEECH_ASR_ENDPOINT", ""),
		TTSEndpoint:    getEnvOrDefault("SPEECH_TTS_ENDPOINT", ""),
		ASRModel:       getEnvOrDefault("SPEECH_ASR_MODEL", "bigmodel"),
		EndWindowSize:  endWindowSize,
		TTSVoice:       getEnvOrDefault("SPEECH_TTS_VOICE", ""),
		TTSSpeed:       ttsSpeed,
		TTSVolume:      ttsVolume,
		TTSFormat:      getEnvOrDefault("SPEECH_TTS_FORMAT", "mp3"),
		Voices:         voices,
		Timeout:        timeoutSeconds,
		DialRetries:    dialRetries,
		Enabled:        enabled,
	}, nil
}

// RealtimeConfig 描述消息扇出与流式转写的参数。
type RealtimeConfig struct {
	InactivityTimeout time.Duration
	SampleRate        int
	InterimResults    bool
	SendBuffer        int
	MaxParallel       int
	PersistTimeout    time.Duration
	SynthesizeTimeout time.Duration
}

func loadRealtimeConfig() (RealtimeConfig, error) {
	inactivity, err := parseDurationEnv("TRANSCRIPTION_INACTIVITY_TIMEOUT", 5*time.Second)
	if err != nil {
		return RealtimeConfig{}, err
	}
	persist, err := parseDurationEnv("PERSIST_TIMEOUT", 5*time.Second)
	if err != nil {
		return RealtimeConfig{}, err
	}
	synthesize, err := parseDurationEnv("SYNTHESIZE_TIMEOUT", 30*time.Second)
	if err != nil {
		return RealtimeConfig{}, err
	}
	interim, err := parseBoolEnv("TRANSCRIPTION_INTERIM_RESULTS", true)
	if err != nil {
		return RealtimeConfig{}, err
	}

	cfg := RealtimeConfig{
		InactivityTimeout: inactivity,
		SampleRate:        16000,
		InterimResults:    interim,
		SendBuffer:        256,
		MaxParallel:       16,
		PersistTimeout:    persist,
		SynthesizeTimeout: synthesize,
	}

	for key, dst := range map[string]*int{
		"TRANSCRIPTION_SAMPLE_RATE": &cfg.SampleRate,
		"WS_SEND_BUFFER":            &cfg.SendBuffer,
		"DELIVERY_MAX_PARALLEL":     &cfg.MaxParallel,
	} {
		val, err := parseOptionalIntEnv(key)
		if err != nil {
			return RealtimeConfig{}, err
		}
		if val == nil {
			continue
		}
		if *val <= 0 {
			return RealtimeConfig{}, fmt.Errorf("invalid %s value %d: must be positive", key, *val)
		}
		*dst = *val
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}

// parseDurationEnv 接受 Go duration（"5s"、"1500ms"）或纯数字毫秒。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if ms, err := strconv.Atoi(raw); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

// parseVoicesEnv 解析 "zh=voice_a,en=voice_b" 形式的语言音色映射。
func parseVoicesEnv(key string) (map[string]string, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil, nil
	}

	voices := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		lang, voice, ok := strings.Cut(pair, "=")
		lang, voice = strings.ToLower(strings.TrimSpace(lang)), strings.TrimSpace(voice)
		if !ok || lang == "" || voice == "" {
			return nil, fmt.Errorf("invalid %s entry %q: want lang=voice", key, pair)
		}
		voices[lang] = voice
	}
	return voices, nil
}
