package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zhouzirui/polyglot-chat/backend/internal/config"
	"github.com/zhouzirui/polyglot-chat/backend/internal/service/speech"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	if err := newRootCmd(viper.New()).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd 所有参数既可用命令行传入，也可用 SPEECHTESTER_* 环境变量覆盖
func newRootCmd(v *viper.Viper) *cobra.Command {
	v.SetEnvPrefix("speechtester")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:          "speechtester",
		Short:        "Probe the Volcengine speech endpoints used by the chat backend",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("lang", "", "前端语言代码或区域代码，如 hi、en-US")
	rootCmd.PersistentFlags().Duration("timeout", 45*time.Second, "请求超时时间")
	_ = v.BindPFlag("lang", rootCmd.PersistentFlags().Lookup("lang"))
	_ = v.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))

	rootCmd.AddCommand(
		newTranscribeCmd(v),
		newSynthesizeCmd(v),
	)
	return rootCmd
}

func loadSpeechService() (*speech.Service, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("配置加载失败: %w", err)
	}
	if !cfg.Speech.Enabled {
		return nil, nil, fmt.Errorf("语音服务未启用，请先在环境变量中配置 SPEECH_APP_ID 与 SPEECH_ACCESS_TOKEN")
	}
	return speech.NewService(cfg.Speech.Model()), cfg, nil
}
