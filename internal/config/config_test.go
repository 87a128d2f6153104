package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "STORE_DRIVER", "SQLITE_PATH", "MONGO_URI", "MONGO_DB", "NATS_URL", "NATS_STREAM", "NATS_MAX_AGE",
		"TRANSLATION_PROVIDER", "TRANSLATEPLUS_API_KEY", "TRANSLATION_BASE_URL", "TRANSLATION_TIMEOUT",
		"ARK_API_KEY", "ARK_ACCESS_KEY", "ARK_SECRET_KEY", "Model", "ARK_TEMPERATURE", "ARK_TOP_P", "ARK_MAX_TOKENS",
		"SPEECH_APP_ID", "SPEECH_ACCESS_TOKEN", "SPEECH_API_KEY", "SPEECH_TIMEOUT", "SPEECH_DIAL_RETRIES",
		"SPEECH_TTS_SPEED", "SPEECH_TTS_VOLUME", "SPEECH_ASR_END_WINDOW", "SPEECH_ASR_CONCURRENT", "SPEECH_TTS_VOICES",
		"TRANSCRIPTION_INACTIVITY_TIMEOUT", "PERSIST_TIMEOUT", "SYNTHESIZE_TIMEOUT", "TRANSCRIPTION_INTERIM_RESULTS",
		"TRANSCRIPTION_SAMPLE_RATE", "WS_SEND_BUFFER", "DELIVERY_MAX_PARALLEL", "USERS_FILE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, TranslationAuto, cfg.Translation.Provider)
	assert.Equal(t, TranslationNoop, cfg.Translation.ResolveProvider(cfg.AI))
	assert.Equal(t, 8*time.Second, cfg.Translation.Timeout)
	assert.False(t, cfg.Speech.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Realtime.InactivityTimeout)
	assert.Equal(t, 16000, cfg.Realtime.SampleRate)
	assert.Equal(t, 16, cfg.Realtime.MaxParallel)
}

func TestServerAddr(t *testing.T) {
	clearEnv(t)

	t.Setenv("PORT", "127.0.0.1:9000")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)

	t.Setenv("PORT", "80 80")
	_, err = Load()
	assert.Error(t, err)
}

func TestStoreDriver(t *testing.T) {
	clearEnv(t)

	t.Setenv("STORE_DRIVER", "SQLite")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, "data/chat.db", cfg.Store.SQLitePath)

	t.Setenv("STORE_DRIVER", "mongo")
	_, err = Load()
	assert.Error(t, err, "mongo needs a uri")

	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "polyglot_chat", cfg.Store.MongoDatabase)

	t.Setenv("STORE_DRIVER", "redis")
	_, err = Load()
	assert.Error(t, err)
}

func TestTranslationProviderResolution(t *testing.T) {
	clearEnv(t)

	t.Setenv("ARK_API_KEY", "ark-key")
	t.Setenv("Model", "doubao")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, TranslationLLM, cfg.Translation.ResolveProvider(cfg.AI))

	t.Setenv("TRANSLATEPLUS_API_KEY", "tp-key")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, TranslationHTTPAPI, cfg.Translation.ResolveProvider(cfg.AI))

	t.Setenv("TRANSLATION_PROVIDER", "noop")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, TranslationNoop, cfg.Translation.ResolveProvider(cfg.AI))
}

func TestHTTPAPIProviderNeedsKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRANSLATION_PROVIDER", "httpapi")

	_, err := Load()
	assert.Error(t, err)
}

func TestDurationParsing(t *testing.T) {
	clearEnv(t)

	t.Setenv("TRANSCRIPTION_INACTIVITY_TIMEOUT", "1500")
	t.Setenv("PERSIST_TIMEOUT", "2s")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.Realtime.InactivityTimeout)
	assert.Equal(t, 2*time.Second, cfg.Realtime.PersistTimeout)

	t.Setenv("PERSIST_TIMEOUT", "-1s")
	_, err = Load()
	assert.Error(t, err)
}

func TestSpeechConfig(t *testing.T) {
	clearEnv(t)

	t.Setenv("SPEECH_APP_ID", "app")
	t.Setenv("SPEECH_API_KEY", "token")
	t.Setenv("SPEECH_TTS_VOICES", "hi=hindi_voice, EN=english_voice")
	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Speech.Enabled)
	assert.Equal(t, "token", cfg.Speech.AccessToken)
	assert.Equal(t, map[string]string{"hi": "hindi_voice", "en": "english_voice"}, cfg.Speech.Voices)

	model := cfg.Speech.Model()
	assert.Equal(t, "app", model.AppID)
	assert.Equal(t, 800, model.EndWindowSize)
	assert.Equal(t, 3, model.DialRetries)

	t.Setenv("SPEECH_TTS_VOICES", "broken")
	_, err = Load()
	assert.Error(t, err)
}

func TestRealtimeOverrides(t *testing.T) {
	clearEnv(t)

	t.Setenv("DELIVERY_MAX_PARALLEL", "4")
	t.Setenv("WS_SEND_BUFFER", "32")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Realtime.MaxParallel)
	assert.Equal(t, 32, cfg.Realtime.SendBuffer)

	t.Setenv("WS_SEND_BUFFER", "0")
	_, err = Load()
	assert.Error(t, err)
}
