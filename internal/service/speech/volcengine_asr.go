package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/polyglot-chat/backend/internal/model/speech"
	"github.com/zhouzirui/polyglot-chat/backend/internal/service/transcription"
)

// DefaultASREndpoint 双向流式识别（优化版本）
const DefaultASREndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async"

// ErrStreamClosed 流已关闭后继续写入
var ErrStreamClosed = errors.New("recognition stream closed")

// VolcengineRecognizer 火山引擎流式ASR，每次 Open 建立一条独立的 WebSocket 会话
type VolcengineRecognizer struct {
	config *speech.SpeechConfig
	dialer *Dialer
}

// NewVolcengineRecognizer 创建流式识别器
func NewVolcengineRecognizer(config *speech.SpeechConfig, dialer *Dialer) *VolcengineRecognizer {
	if dialer == nil {
		dialer = NewDialer(DefaultDialOptions())
	}
	return &VolcengineRecognizer{config: config, dialer: dialer}
}

type asrUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

type asrServerMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
}

// asrRequest 火山引擎ASR请求结构（按文档格式）
type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

// Open 建立识别会话并发送 full client request
func (r *VolcengineRecognizer) Open(ctx context.Context, cfg transcription.StreamConfig) (transcription.Stream, error) {
	appID, token, err := resolveCredentials(r.config)
	if err != nil {
		return nil, err
	}

	resourceID := "volc.bigasr.sauc.duration" // 小时版
	if r.config.ConcurrentMode {
		resourceID = "volc.bigasr.sauc.concurrent" // 并发版
	}
	header, connectID := authHeader(appID, token, resourceID, "")

	endpoint := strings.TrimSpace(r.config.ASREndpoint)
	if endpoint == "" {
		endpoint = DefaultASREndpoint
	}

	conn, err := r.dialer.DialWithRetry(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ASR WebSocket: %w", err)
	}

	payload, err := json.Marshal(r.buildRequest(connectID, cfg))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to marshal ASR request: %w", err)
	}
	compressed, err := CompressPayload(payload, GzipCompression)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := r.dialer.writeFrame(conn, CreateFullClientRequest(compressed, GzipCompression)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send ASR request: %w", err)
	}

	stream := &asrStream{
		conn:      conn,
		dialer:    r.dialer,
		connectID: connectID,
		sequence:  2, // FullClientRequest 占用序号1，音频从2开始
		done:      make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-stream.done:
		}
	}()

	log.Printf("[ASR] stream %s opened language=%s rate=%d", connectID, cfg.LanguageCode, cfg.SampleRate)
	return stream, nil
}

func (r *VolcengineRecognizer) buildRequest(uid string, cfg transcription.StreamConfig) *asrRequest {
	req := &asrRequest{}
	req.User.UID = uid

	req.Audio.Format = "pcm"
	req.Audio.Codec = "raw"
	req.Audio.Language = cfg.LanguageCode
	req.Audio.Rate = cfg.SampleRate
	if req.Audio.Rate <= 0 {
		req.Audio.Rate = transcription.DefaultSampleRate
	}
	req.Audio.Bits = 16
	req.Audio.Channel = 1

	req.Request.ModelName = strings.TrimSpace(r.config.ASRModel)
	if req.Request.ModelName == "" {
		req.Request.ModelName = "bigmodel"
	}
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = r.config.EndWindowSize
	if req.Request.EndWindowSize <= 0 {
		req.Request.EndWindowSize = 800
	}
	return req
}

// asrStream 单条识别会话；Write/Close 与 Recv 可以并发调用
type asrStream struct {
	conn      *websocket.Conn
	dialer    *Dialer
	connectID string

	writeMu  sync.Mutex
	sequence int32
	closed   bool // 最后一包已发送，不再接受音频

	closeOnce sync.Once
	done      chan struct{}

	// 只在 Recv 中访问
	pending      []transcription.Result
	lastFinalEnd int64
	finished     bool
}

// Write 发送一包 PCM 音频
func (s *asrStream) Write(pcm []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}

	compressed, err := CompressPayload(pcm, GzipCompression)
	if err != nil {
		return fmt.Errorf("failed to compress audio chunk: %w", err)
	}
	if err := s.dialer.writeFrame(s.conn, CreateAudioOnlyRequest(compressed, s.sequence, false, GzipCompression)); err != nil {
		return fmt.Errorf("failed to send audio chunk: %w", err)
	}
	s.sequence++
	return nil
}

// Recv 阻塞直到下一条识别结果
func (s *asrStream) Recv() (transcription.Result, error) {
	for {
		if len(s.pending) > 0 {
			next := s.pending[0]
			s.pending = s.pending[1:]
			return next, nil
		}
		if s.finished {
			return transcription.Result{}, io.EOF
		}

		msg, payload, err := readFrame(s.conn)
		if err != nil {
			select {
			case <-s.done:
				return transcription.Result{}, io.EOF
			default:
			}
			return transcription.Result{}, fmt.Errorf("ASR stream %s: %w", s.connectID, err)
		}
		if msg.Header.MessageType != FullServerResponse {
			continue
		}

		var resp asrServerMessage
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &resp); err != nil {
				log.Printf("[ASR] failed to unmarshal response: %v", err)
				continue
			}
		}
		if resp.Code != 0 && resp.Code != 20000000 {
			return transcription.Result{}, fmt.Errorf("ASR API error %d: %s", resp.Code, resp.Message)
		}

		s.pending = append(s.pending, s.collect(resp)...)
		if msg.IsLastPacket() {
			s.finished = true
		}
	}
}

// collect 把一次全量响应转换为结果：新判停的分句作为最终结果，其余作为中间结果
func (s *asrStream) collect(resp asrServerMessage) []transcription.Result {
	var (
		out     []transcription.Result
		interim string
	)
	for _, u := range resp.Result.Utterances {
		if u.Definite {
			if u.EndTime > s.lastFinalEnd {
				s.lastFinalEnd = u.EndTime
				out = append(out, transcription.Result{Text: u.Text, IsFinal: true})
			}
			continue
		}
		interim = u.Text
	}
	if len(resp.Result.Utterances) == 0 && resp.Result.Text != "" {
		interim = resp.Result.Text
	}
	if interim != "" {
		out = append(out, transcription.Result{Text: interim})
	}
	return out
}

// CloseSend 发送最后一包但保留连接：服务端随后返回剩余结果，
// Recv 读到末包后返回 io.EOF。
func (s *asrStream) CloseSend() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.sendLastLocked()
}

func (s *asrStream) sendLastLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true

	last, err := CompressPayload(nil, GzipCompression)
	if err != nil {
		return fmt.Errorf("failed to compress final packet: %w", err)
	}
	if err := s.dialer.writeFrame(s.conn, CreateAudioOnlyRequest(last, s.sequence, true, GzipCompression)); err != nil {
		return fmt.Errorf("failed to send final packet: %w", err)
	}
	return nil
}

// Close 发送最后一包（如未发送）并立即关闭连接，可重复调用
func (s *asrStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		if werr := s.sendLastLocked(); werr != nil {
			log.Printf("[ASR] stream %s: %v", s.connectID, werr)
		}
		s.writeMu.Unlock()

		close(s.done)
		err = s.conn.Close()
	})
	return err
}
