package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/event"
	"github.com/zhouzirui/polyglot-chat/backend/internal/service/transcription"
)

const wavHeaderSize = 44

func newTranscribeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe",
		Short: "Stream a raw audio file through the transcription bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTranscribe(cmd.Context(), v)
		},
	}

	cmd.Flags().String("audio", "", "输入音频文件路径 (16kHz 单声道)")
	cmd.Flags().String("format", "", "输入格式: f32, pcm16, wav；留空按扩展名推断")
	cmd.Flags().Int("chunk", 1600, "每帧样本数")
	cmd.Flags().Bool("realtime", true, "按音频实际时长节流发送")
	cmd.Flags().Duration("linger", 3*time.Second, "发送完成后等待最终结果的时间")
	for _, name := range []string{"audio", "format", "chunk", "realtime", "linger"} {
		_ = v.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	return cmd
}

// printSink 把桥接层的输出打印到终端
type printSink struct {
	mu      sync.Mutex
	results []string
}

func (s *printSink) Send(_ string, kind event.Kind, payload any) error {
	switch p := payload.(type) {
	case event.TranscriptPayload:
		s.mu.Lock()
		s.results = append(s.results, p.Text)
		s.mu.Unlock()
		log.Printf("[%s] %s", kind, p.Text)
	case event.ErrorPayload:
		log.Printf("[%s] %s", kind, p.Error)
	default:
		log.Printf("[%s] %+v", kind, payload)
	}
	return nil
}

func (s *printSink) transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.results, " ")
}

func runTranscribe(parent context.Context, v *viper.Viper) error {
	audioPath := v.GetString("audio")
	if audioPath == "" {
		return fmt.Errorf("transcribe 需要通过 --audio 指定音频文件路径")
	}

	data, err := os.ReadFile(audioPath)
	if err != nil {
		return fmt.Errorf("打开音频文件失败: %w", err)
	}
	samples, err := decodeSamples(data, inferFormat(v.GetString("format"), audioPath))
	if err != nil {
		return err
	}

	svc, cfg, err := loadSpeechService()
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, v.GetDuration("timeout"))
	defer cancel()

	bridgeCfg := transcription.DefaultConfig()
	bridgeCfg.InactivityTimeout = cfg.Realtime.InactivityTimeout
	bridgeCfg.SampleRate = cfg.Realtime.SampleRate
	sink := &printSink{}
	bridge := transcription.NewBridge(svc.Recognizer(), sink, bridgeCfg)
	defer bridge.Close()

	const handle = "speechtester"
	if err := bridge.Start(ctx, handle, v.GetString("lang")); err != nil {
		return fmt.Errorf("ASR 建连失败: %w", err)
	}

	chunk := v.GetInt("chunk")
	if chunk <= 0 {
		chunk = 1600
	}
	frame := time.Duration(float64(chunk) / float64(bridgeCfg.SampleRate) * float64(time.Second))
	log.Printf("开始进行 ASR 测试: samples=%d chunk=%d language=%s", len(samples), chunk, transcription.ResolveLanguage(v.GetString("lang")))

	for start := 0; start < len(samples); start += chunk {
		end := min(start+chunk, len(samples))
		if err := bridge.FeedAudio(handle, samples[start:end]); err != nil {
			log.Printf("[WARN] 发送音频失败: %v", err)
		}
		if v.GetBool("realtime") {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(frame):
			}
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(v.GetDuration("linger")):
	}
	bridge.Stop(handle)

	log.Printf("ASR 识别完成: text=%q", sink.transcript())
	return nil
}

func inferFormat(format, path string) string {
	if format = strings.ToLower(strings.TrimSpace(format)); format != "" {
		return format
	}
	switch {
	case strings.HasSuffix(strings.ToLower(path), ".wav"):
		return "wav"
	case strings.HasSuffix(strings.ToLower(path), ".f32"):
		return "f32"
	default:
		return "pcm16"
	}
}

// decodeSamples 将小端原始音频转换为 [-1, 1] 浮点样本
func decodeSamples(data []byte, format string) ([]float32, error) {
	switch format {
	case "f32":
		if len(data)%4 != 0 {
			return nil, fmt.Errorf("f32 audio length %d is not a multiple of 4", len(data))
		}
		samples := make([]float32, len(data)/4)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return samples, nil
	case "wav":
		if len(data) < wavHeaderSize {
			return nil, fmt.Errorf("wav file too short")
		}
		return decodeSamples(data[wavHeaderSize:], "pcm16")
	case "pcm16":
		if len(data)%2 != 0 {
			data = data[:len(data)-1]
		}
		samples := make([]float32, len(data)/2)
		for i := range samples {
			samples[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
		}
		return samples, nil
	default:
		return nil, fmt.Errorf("unsupported audio format %q", format)
	}
}
