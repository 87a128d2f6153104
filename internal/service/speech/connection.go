package speech

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
)

// DialOptions WebSocket 建连参数
type DialOptions struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxRetries       int
	InitialInterval  time.Duration
	MaxInterval      time.Duration
}

// DefaultDialOptions 默认建连参数
func DefaultDialOptions() DialOptions {
	return DialOptions{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		MaxRetries:       3,
		InitialInterval:  300 * time.Millisecond,
		MaxInterval:      3 * time.Second,
	}
}

// Dialer 带退避重试的 WebSocket 拨号器
type Dialer struct {
	dialer  *websocket.Dialer
	options DialOptions
}

// NewDialer 创建拨号器，零值字段使用默认参数
func NewDialer(options DialOptions) *Dialer {
	defaults := DefaultDialOptions()
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = defaults.WriteTimeout
	}
	if options.MaxRetries < 0 {
		options.MaxRetries = 0
	}
	if options.InitialInterval <= 0 {
		options.InitialInterval = defaults.InitialInterval
	}
	if options.MaxInterval <= 0 {
		options.MaxInterval = defaults.MaxInterval
	}

	return &Dialer{
		dialer:  &websocket.Dialer{HandshakeTimeout: options.HandshakeTimeout},
		options: options,
	}
}

// DialWithRetry 建立连接，网络错误按指数退避重试，鉴权等握手拒绝直接返回
func (d *Dialer) DialWithRetry(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	var conn *websocket.Conn

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.options.InitialInterval
	policy.MaxInterval = d.options.MaxInterval
	policy.MaxElapsedTime = 0

	operation := func() error {
		c, resp, err := d.dialer.DialContext(ctx, url, header)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !IsRetryableDialError(resp, err) {
				return backoff.Permanent(describeHandshake(resp, err))
			}
			return err
		}
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[speech] connected %s logid=%s", url, logid)
		}
		conn = c
		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.Printf("[speech] dial %s failed, retrying in %s: %v", url, wait, err)
	}

	policyWithLimit := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.options.MaxRetries)), ctx)
	// RetryNotify 会解开 PermanentError，返回原始错误
	if err := backoff.RetryNotify(operation, policyWithLimit, notify); err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// IsRetryableDialError 握手被服务端以 4xx 拒绝时不再重试
func IsRetryableDialError(resp *http.Response, err error) bool {
	if err == nil {
		return false
	}
	if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return false
	}
	return true
}

func describeHandshake(resp *http.Response, err error) error {
	if resp == nil {
		return err
	}
	return fmt.Errorf("%w (status %d)", err, resp.StatusCode)
}

// writeFrame 编码并发送一帧二进制消息
func (d *Dialer) writeFrame(conn *websocket.Conn, msg *Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(d.options.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// readFrame 读取并解码一帧消息，服务端错误帧转换为 error
func readFrame(conn *websocket.Conn) (*Message, []byte, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, nil, err
	}

	msg, err := DecodeMessage(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode message: %w", err)
	}

	payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decompress payload: %w", err)
	}

	if msg.IsErrorMessage() {
		return msg, payload, &ServerError{Code: msg.ErrorCode, Message: string(payload)}
	}
	return msg, payload, nil
}

// ServerError 服务端返回的错误帧
type ServerError struct {
	Code    uint32
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}
