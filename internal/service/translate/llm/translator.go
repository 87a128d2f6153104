package llm

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/polyglot-chat/backend/internal/service/translate"
)

const translateSystemPrompt = `You are a chat message translator.
Translate the user's message from language "{source}" into language "{target}".
If the source language is "auto", detect it yourself.
Reply with the translated text only. Keep emoji, names, URLs and line breaks unchanged.`

const detectSystemPrompt = `Identify the language of the user's message.
Reply with the ISO 639-1 code only, for example: en, hi, zh, es.`

// Translator 使用大模型完成消息翻译与语种识别。
type Translator struct {
	translateChain compose.Runnable[map[string]any, *schema.Message]
	detectChain    compose.Runnable[map[string]any, *schema.Message]
}

var _ translate.Translator = (*Translator)(nil)

// New compiles the translate and detect chains around chatModel.
func New(ctx context.Context, chatModel model.BaseChatModel) (*Translator, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	translateChain, err := compileChain(ctx, chatModel, translateSystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to compile translate chain: %w", err)
	}

	detectChain, err := compileChain(ctx, chatModel, detectSystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to compile detect chain: %w", err)
	}

	return &Translator{translateChain: translateChain, detectChain: detectChain}, nil
}

func compileChain(ctx context.Context, chatModel model.BaseChatModel, system string) (compose.Runnable[map[string]any, *schema.Message], error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage("{text}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	return chain.Compile(ctx)
}

// Translate asks the model for a translation of text.
func (t *Translator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	source := strings.TrimSpace(sourceLang)
	if source == "" {
		source = "auto"
	}

	msg, err := t.translateChain.Invoke(ctx, map[string]any{
		"source": source,
		"target": targetLang,
		"text":   text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run translate chain: %w", err)
	}

	out := cleanReply(msg.Content)
	if out == "" {
		return "", translate.ErrEmptyResult
	}

	log.Printf("[translate] llm %s->%s length=%d", source, targetLang, len(out))
	return out, nil
}

// DetectLanguage asks the model for the ISO code of text.
func (t *Translator) DetectLanguage(ctx context.Context, text string) (string, error) {
	msg, err := t.detectChain.Invoke(ctx, map[string]any{"text": text})
	if err != nil {
		return "", fmt.Errorf("failed to run detect chain: %w", err)
	}

	code := strings.ToLower(cleanReply(msg.Content))
	if len(code) < 2 || len(code) > 8 || strings.ContainsAny(code, " \n") {
		return "", fmt.Errorf("unexpected language code %q", code)
	}
	return code, nil
}

// cleanReply strips whitespace and a single pair of wrapping quotes.
func cleanReply(content string) string {
	out := strings.TrimSpace(content)
	if len(out) >= 2 {
		first, last := out[0], out[len(out)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') || (first == '`' && last == '`') {
			out = strings.TrimSpace(out[1 : len(out)-1])
		}
	}
	return out
}
