package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/polyglot-chat/backend/internal/config"
	"github.com/zhouzirui/polyglot-chat/backend/internal/handler"
	realtimeHandler "github.com/zhouzirui/polyglot-chat/backend/internal/handler/realtime"
	"github.com/zhouzirui/polyglot-chat/backend/internal/model/user"
	chatService "github.com/zhouzirui/polyglot-chat/backend/internal/service/chat"
	"github.com/zhouzirui/polyglot-chat/backend/internal/service/realtime"
	"github.com/zhouzirui/polyglot-chat/backend/internal/service/speech"
	"github.com/zhouzirui/polyglot-chat/backend/internal/service/transcription"
	"github.com/zhouzirui/polyglot-chat/backend/internal/service/translate"
	"github.com/zhouzirui/polyglot-chat/backend/internal/service/translate/httpapi"
	"github.com/zhouzirui/polyglot-chat/backend/internal/service/translate/llm"
	"github.com/zhouzirui/polyglot-chat/backend/internal/store"
	"github.com/zhouzirui/polyglot-chat/backend/internal/store/journal"
	"github.com/zhouzirui/polyglot-chat/backend/internal/store/memory"
	"github.com/zhouzirui/polyglot-chat/backend/internal/store/mongo"
	"github.com/zhouzirui/polyglot-chat/backend/internal/store/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	users, err := loadUsers(cfg.UsersFile)
	if err != nil {
		log.Fatalf("failed to load users: %v", err)
	}

	messageStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("failed to open %s message store: %v", cfg.Store.Driver, err)
	}
	log.Printf("Message store initialized (driver=%s)", cfg.Store.Driver)

	translator := newTranslator(ctx, cfg)

	hub := realtimeHandler.NewHub()
	directory := realtime.NewDirectory()
	presence := realtime.NewPresence()
	router := realtime.NewRouter(directory, hub)
	pipeline := realtime.NewPipeline(router, users, translator, messageStore, realtime.PipelineConfig{
		TranslateTimeout: cfg.Translation.Timeout,
		PersistTimeout:   cfg.Realtime.PersistTimeout,
		MaxParallel:      cfg.Realtime.MaxParallel,
	})

	deps := realtimeHandler.Deps{
		Hub:       hub,
		Directory: directory,
		Presence:  presence,
		Router:    router,
		Pipeline:  pipeline,
		Users:     users,
	}
	services := handler.Services{
		Chat:  chatService.NewService(messageStore),
		Users: users,
	}

	// Initialize Speech service
	var bridge *transcription.Bridge
	if cfg.Speech.Enabled {
		speechService := speech.NewService(cfg.Speech.Model())

		bridgeCfg := transcription.DefaultConfig()
		bridgeCfg.InactivityTimeout = cfg.Realtime.InactivityTimeout
		bridgeCfg.SampleRate = cfg.Realtime.SampleRate
		bridgeCfg.InterimResults = cfg.Realtime.InterimResults
		bridge = transcription.NewBridge(speechService.Recognizer(), router, bridgeCfg)

		deps.Transcriber = bridge
		deps.Synthesizer = speechService
		services.Speech = speechService
		log.Println("Speech service initialized successfully")
	} else {
		log.Println("语音服务凭证未配置，跳过语音功能初始化")
	}

	services.Realtime = realtimeHandler.New(deps, realtimeHandler.Options{
		SendBuffer:        cfg.Realtime.SendBuffer,
		SynthesizeTimeout: cfg.Realtime.SynthesizeTimeout,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.NewRouter(services),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Polyglot chat backend listening on %s", cfg.Server.Addr)
	if err := runServer(ctx, srv, hub); err != nil {
		log.Printf("server error: %v", err)
	}

	// 先停识别与连接，再等待进行中的投递落库，最后关闭存储
	if bridge != nil {
		bridge.Close()
	}
	pipeline.Shutdown()
	if err := messageStore.Close(); err != nil {
		log.Printf("failed to close message store: %v", err)
	}
	log.Println("shutdown complete")
}

func runServer(ctx context.Context, srv *http.Server, hub *realtimeHandler.Hub) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Shutdown 先停止接受新连接，但不会关闭或等待已升级的 websocket 连接
		err := srv.Shutdown(shutdownCtx)
		hub.CloseAll()
		if werr := hub.Wait(shutdownCtx); werr != nil {
			log.Printf("server shutdown: %v", werr)
		}
		return err
	})

	return g.Wait()
}

func loadUsers(path string) (*user.MemoryStore, error) {
	if path == "" {
		log.Println("USERS_FILE not set, using the built-in development roster")
		return user.NewMemoryStore(user.Seed()), nil
	}
	items, err := user.LoadFile(path)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded %d users from %s", len(items), path)
	return user.NewMemoryStore(items), nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	switch cfg.Driver {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite:
		return sqlite.Open(cfg.SQLitePath)
	case config.StoreMongo:
		return mongo.Connect(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	case config.StoreNATS:
		return journal.Connect(connectCtx, journal.Config{
			URL:    cfg.NATSURL,
			Stream: cfg.NATSStream,
			MaxAge: cfg.NATSMaxAge,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newTranslator(ctx context.Context, cfg *config.Config) translate.Translator {
	switch provider := cfg.Translation.ResolveProvider(cfg.AI); provider {
	case config.TranslationHTTPAPI:
		log.Printf("Translation via HTTP API at %s", cfg.Translation.BaseURL)
		return httpapi.New(cfg.Translation.BaseURL, cfg.Translation.APIKey, cfg.Translation.Timeout)
	case config.TranslationLLM:
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize chat model: %v", err)
			break
		}
		translator, err := llm.New(ctx, chatModel)
		if err != nil {
			log.Printf("warning: failed to initialize LLM translator: %v", err)
			break
		}
		log.Println("Translation via Ark chat model")
		return translator
	}

	log.Println("翻译服务未配置，消息将以原文投递")
	return translate.Noop{}
}
