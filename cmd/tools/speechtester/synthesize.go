package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	speechmodel "github.com/zhouzirui/polyglot-chat/backend/internal/model/speech"
	"github.com/zhouzirui/polyglot-chat/backend/internal/service/transcription"
)

func newSynthesizeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Synthesize text and write the audio to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSynthesize(cmd.Context(), v)
		},
	}

	cmd.Flags().String("text", "", "待合成文本")
	cmd.Flags().String("voice", "", "TTS 音色 ID，默认按语言选择")
	cmd.Flags().String("format", "mp3", "输出格式: mp3, ogg_opus, pcm")
	cmd.Flags().String("out", "", "输出文件路径 (默认根据格式自动生成)")
	for _, name := range []string{"text", "voice", "format", "out"} {
		_ = v.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	return cmd
}

func runSynthesize(parent context.Context, v *viper.Viper) error {
	text := v.GetString("text")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("synthesize 需要通过 --text 提供待合成文本")
	}

	svc, _, err := loadSpeechService()
	if err != nil {
		return err
	}

	format := v.GetString("format")
	outputPath := v.GetString("out")
	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), format)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, v.GetDuration("timeout"))
	defer cancel()

	req := &speechmodel.TTSRequest{
		SessionID: fmt.Sprintf("manual-%d", time.Now().UnixNano()),
		Text:      text,
		Voice:     v.GetString("voice"),
		Format:    format,
		Language:  transcription.ResolveLanguage(v.GetString("lang")),
	}
	log.Printf("开始进行 TTS 测试: language=%s voice=%q format=%s", req.Language, req.Voice, format)

	resp, err := svc.SynthesizeSpeech(ctx, req)
	if err != nil {
		return fmt.Errorf("TTS 调用失败: %w", err)
	}

	if err := os.WriteFile(outputPath, resp.AudioData, 0o644); err != nil {
		return fmt.Errorf("写入音频文件失败: %w", err)
	}

	log.Printf("TTS 合成成功: 输出文件 %s, 音色=%s, 时长=%dms", outputPath, resp.Voice, resp.Duration)
	return nil
}
