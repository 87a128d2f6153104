package speech

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// 火山引擎语音 websocket 二进制帧：
//
//	byte0  version(4) | header size in words(4)
//	byte1  message type(4) | flags(4)
//	byte2  serialization(4) | compression(4)
//	byte3  reserved
//	[sequence int32] [event int32 [session id] [connect id]] [error code uint32] payload size uint32, payload
//
// 所有整数均为大端序。

// ProtocolVersion 二进制协议版本
const ProtocolVersion = 0b0001

const headerWords = 0b0001

// MessageType 消息类型
type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	AudioOnlyRequest        MessageType = 0b0010
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

// MessageFlags 低两位描述 sequence，第三位表示携带事件
type MessageFlags uint8

const (
	NoSequenceNumber       MessageFlags = 0b0000
	PositiveSequenceNumber MessageFlags = 0b0001
	LastPacketNoSequence   MessageFlags = 0b0010
	NegativeSequenceNumber MessageFlags = 0b0011
	WithEvent              MessageFlags = 0b0100

	sequenceMask MessageFlags = 0b0011
)

func (f MessageFlags) hasSequence() bool {
	s := f & sequenceMask
	return s == PositiveSequenceNumber || s == NegativeSequenceNumber
}

func (f MessageFlags) isLast() bool {
	s := f & sequenceMask
	return s == LastPacketNoSequence || s == NegativeSequenceNumber
}

func (f MessageFlags) hasEvent() bool {
	return f&WithEvent == WithEvent
}

// EventType 服务端事件，仅 TTS 双向流使用
type EventType int32

const (
	EventTypeNone               EventType = 0
	EventTypeStartConnection    EventType = 1
	EventTypeFinishConnection   EventType = 2
	EventTypeConnectionStarted  EventType = 50
	EventTypeConnectionFailed   EventType = 51
	EventTypeConnectionFinished EventType = 52
	EventTypeSessionStarted     EventType = 150
	EventTypeSessionFinished    EventType = 152
	EventTypeSessionFailed      EventType = 153
)

// 连接级事件不带 session id，连接结果事件额外带 connect id
func (e EventType) hasSessionID() bool {
	switch e {
	case EventTypeStartConnection, EventTypeFinishConnection,
		EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return false
	}
	return true
}

func (e EventType) hasConnectID() bool {
	return e == EventTypeConnectionStarted || e == EventTypeConnectionFailed || e == EventTypeConnectionFinished
}

// SerializationMethod 序列化方法
type SerializationMethod uint8

const (
	NoSerialization     SerializationMethod = 0b0000
	JSONSerialization   SerializationMethod = 0b0001
	CustomSerialization SerializationMethod = 0b1111
)

// CompressionMethod 压缩方法
type CompressionMethod uint8

const (
	NoCompression     CompressionMethod = 0b0000
	GzipCompression   CompressionMethod = 0b0001
	CustomCompression CompressionMethod = 0b1111
)

// ErrUnsupportedVersion 帧头版本号不是 1
var ErrUnsupportedVersion = errors.New("unsupported speech protocol version")

// Header 4 字节帧头
type Header struct {
	ProtocolVersion     uint8
	HeaderSize          uint8 // 以 4 字节为单位
	MessageType         MessageType
	MessageFlags        MessageFlags
	SerializationMethod SerializationMethod
	CompressionMethod   CompressionMethod
	Reserved            uint8
}

// Message 一个完整的协议帧
type Message struct {
	Header      Header
	Sequence    int32
	EventType   EventType
	SessionID   string
	ConnectID   string
	ErrorCode   uint32
	PayloadSize uint32
	Payload     []byte
}

// NewHeader 创建 4 字节帧头
func NewHeader(msgType MessageType, flags MessageFlags, serialization SerializationMethod, compression CompressionMethod) Header {
	return Header{
		ProtocolVersion:     ProtocolVersion,
		HeaderSize:          headerWords,
		MessageType:         msgType,
		MessageFlags:        flags,
		SerializationMethod: serialization,
		CompressionMethod:   compression,
	}
}

// Encode 打包帧头
func (h *Header) Encode() []byte {
	return h.appendTo(make([]byte, 0, 4))
}

func (h *Header) appendTo(buf []byte) []byte {
	return append(buf,
		h.ProtocolVersion<<4|h.HeaderSize&0x0F,
		uint8(h.MessageType)<<4|uint8(h.MessageFlags)&0x0F,
		uint8(h.SerializationMethod)<<4|uint8(h.CompressionMethod)&0x0F,
		h.Reserved,
	)
}

// DecodeHeader 解析帧头
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("header data too short: got %d, need 4", len(data))
	}

	h := &Header{
		ProtocolVersion:     data[0] >> 4,
		HeaderSize:          data[0] & 0x0F,
		MessageType:         MessageType(data[1] >> 4),
		MessageFlags:        MessageFlags(data[1] & 0x0F),
		SerializationMethod: SerializationMethod(data[2] >> 4),
		CompressionMethod:   CompressionMethod(data[2] & 0x0F),
		Reserved:            data[3],
	}
	if h.ProtocolVersion != ProtocolVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.ProtocolVersion)
	}
	return h, nil
}

// EncodeMessage 编码完整帧，PayloadSize 以 Payload 实际长度为准
func EncodeMessage(msg *Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("nil message")
	}
	msg.PayloadSize = uint32(len(msg.Payload))

	flags := msg.Header.MessageFlags
	buf := make([]byte, 0, 24+len(msg.SessionID)+len(msg.ConnectID)+len(msg.Payload))
	buf = msg.Header.appendTo(buf)

	if flags.hasSequence() {
		buf = binary.BigEndian.AppendUint32(buf, uint32(msg.Sequence))
	}
	if flags.hasEvent() {
		buf = binary.BigEndian.AppendUint32(buf, uint32(msg.EventType))
		if msg.EventType.hasSessionID() {
			buf = appendSized(buf, msg.SessionID)
		}
		if msg.EventType.hasConnectID() {
			buf = appendSized(buf, msg.ConnectID)
		}
	}
	if msg.Header.MessageType == ErrorMessage {
		buf = binary.BigEndian.AppendUint32(buf, msg.ErrorCode)
	}

	buf = binary.BigEndian.AppendUint32(buf, msg.PayloadSize)
	return append(buf, msg.Payload...), nil
}

func appendSized(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// frameReader 顺序读取帧字段，记录第一个错误
type frameReader struct {
	r   io.Reader
	err error
}

func (fr *frameReader) read(n int, what string) []byte {
	if fr.err != nil {
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		fr.err = fmt.Errorf("failed to read %s: %w", what, err)
		return nil
	}
	return buf
}

func (fr *frameReader) uint32(what string) uint32 {
	b := fr.read(4, what)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (fr *frameReader) sized(what string) string {
	size := fr.uint32(what + " size")
	if size == 0 {
		return ""
	}
	return string(fr.read(int(size), what))
}

// DecodeMessage 从 reader 读取一个完整帧
func DecodeMessage(reader io.Reader) (*Message, error) {
	fr := &frameReader{r: reader}

	raw := fr.read(4, "header")
	if fr.err != nil {
		return nil, fr.err
	}
	header, err := DecodeHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	msg := &Message{Header: *header}

	// 扩展头内容目前没有定义，读出后丢弃
	if extra := int(header.HeaderSize)*4 - 4; extra > 0 {
		fr.read(extra, "extended header")
	}

	flags := header.MessageFlags
	if flags.hasSequence() {
		msg.Sequence = int32(fr.uint32("sequence"))
	}
	if flags.hasEvent() {
		msg.EventType = EventType(int32(fr.uint32("event type")))
		if msg.EventType.hasSessionID() {
			msg.SessionID = fr.sized("session id")
		}
		if msg.EventType.hasConnectID() {
			msg.ConnectID = fr.sized("connect id")
		}
	}
	if header.MessageType == ErrorMessage {
		msg.ErrorCode = fr.uint32("error code")
	}

	msg.PayloadSize = fr.uint32("payload size")
	if fr.err == nil && msg.PayloadSize > 0 {
		msg.Payload = fr.read(int(msg.PayloadSize), fmt.Sprintf("payload (expected %d bytes)", msg.PayloadSize))
	}
	if fr.err != nil {
		return nil, fr.err
	}
	return msg, nil
}

// CreateFullClientRequest 携带 JSON 参数的首帧
func CreateFullClientRequest(payload []byte, compression CompressionMethod) *Message {
	return &Message{
		Header:      NewHeader(FullClientRequest, NoSequenceNumber, JSONSerialization, compression),
		PayloadSize: uint32(len(payload)),
		Payload:     payload,
	}
}

// CreateAudioOnlyRequest 音频帧；最后一包的 sequence 取负
func CreateAudioOnlyRequest(audioData []byte, sequence int32, isLast bool, compression CompressionMethod) *Message {
	flags := NoSequenceNumber
	switch {
	case isLast && sequence != 0:
		flags = NegativeSequenceNumber
		sequence = -sequence
	case isLast:
		flags = LastPacketNoSequence
	case sequence > 0:
		flags = PositiveSequenceNumber
	}

	return &Message{
		Header:      NewHeader(AudioOnlyRequest, flags, NoSerialization, compression),
		Sequence:    sequence,
		PayloadSize: uint32(len(audioData)),
		Payload:     audioData,
	}
}

// IsLastPacket 判断是否为最后一包
func (m *Message) IsLastPacket() bool {
	return m.Header.MessageFlags.isLast()
}

// IsErrorMessage 判断是否为错误帧
func (m *Message) IsErrorMessage() bool {
	return m.Header.MessageType == ErrorMessage
}
