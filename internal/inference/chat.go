package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"earthquake-stories-go/internal/extractor"
	"earthquake-stories-go/internal/labels"
)

const replySystemPrompt = "You are Hope, an empathetic AI assistant for earthquake survivors. Your role is to listen, show understanding, and offer gentle support. Do not give medical or structural advice. Keep your responses concise (1-2 sentences)."

const analysisSystemPrompt = `You are an expert sentiment classifier and summarizer. Your task is to analyze the user's input (a disaster story) and respond ONLY with a raw JSON object containing two keys:
1. "sentiment": must be exactly one word: 'positive', 'negative', or 'neutral'.
2. "summary": A concise, one-sentence summary of the story (max 50 words).

DO NOT add any explanation, code fences (` + "```json" + `), quotation marks around the JSON, or any extra text outside the JSON object itself.

Here are some examples:

Text: "He patched me in" ... (story content) ...
Response: {"sentiment": "positive", "summary": "Despite being separated by distance, a man happily reconnected with his 90-year-old mother via a clear three-way video conversation patched in by his son."}

Text: 41.5 weeks pregnant and on the way to the hospital... (story content) ...
Response: {"sentiment": "negative", "summary": "A woman's attempt to reach the hospital for induction was thwarted by traffic and chaos following the earthquake, forcing her to return home."}

Text: I was the manager of the restaurant... (story content) ...
Response: {"sentiment": "neutral", "summary": "A restaurant manager experienced the earthquake while protecting oven dishes, noting the strange behavior of freezers before finding shelter in a doorway."}
`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// toneInstruction picks the reply tone from the related story's sentiment.
func toneInstruction(s labels.Sentiment) string {
	switch s {
	case labels.Negative:
		return "The user is sharing a difficult experience. Respond with extra compassion and validation."
	case labels.Positive:
		return "The user is sharing a hopeful or positive experience. Share in their feeling of relief or hope."
	default:
		return "The user is sharing a factual or neutral experience. Respond in a gentle, listening manner."
	}
}

// The local model has no system role, so both prompts go in one user message.
func replyPrompt(message string, sentiment labels.Sentiment) string {
	user := fmt.Sprintf("%s\n\nUser's message: \"%s\"\n\nYour supportive response:", toneInstruction(sentiment), message)
	return replySystemPrompt + "\n\n" + user
}

func analysisPrompt(text string) string {
	return analysisSystemPrompt + "\n\n" + fmt.Sprintf("\nText: %s\nResponse:", text)
}

func (c *Client) completion(prompt string, temperature float64, maxTokens int) chatRequest {
	return chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

func (c *Client) reply(ctx context.Context, req Request) Result {
	res := Result{Kind: KindChatCompletion}
	if strings.TrimSpace(req.Payload) == "" {
		res.Reply, res.Fallback = FallbackReply, true
		return res
	}

	payload := c.completion(replyPrompt(req.Payload, req.Sentiment), 0.7, 100)
	var text string
	attempts, err := c.run(ctx, KindChatCompletion, c.cfg.ChatTimeout, func(ctx context.Context) error {
		body, err := c.postJSON(ctx, c.cfg.ChatURL, payload)
		if err != nil {
			return err
		}
		content, err := extractor.ChoiceContent(body)
		if err != nil {
			return err
		}
		if text = strings.TrimSpace(content); text == "" {
			return ErrEmptyCompletion
		}
		return nil
	})
	res.Attempts = attempts
	if err != nil {
		c.log.WithField("kind", KindChatCompletion).WithField("attempts", attempts).
			WithField("error", err.Error()).Error("chat completion failed, returning fallback reply")
		res.Reply, res.Fallback = FallbackReply, true
		return res
	}
	res.Reply = text
	return res
}

func (c *Client) analyze(ctx context.Context, req Request) Result {
	res := Result{Kind: KindStoryAnalysis}
	if strings.TrimSpace(req.Payload) == "" {
		res.Analysis = Analysis{Sentiment: labels.Neutral, Summary: ParseErrorSummary}
		res.Fallback = true
		return res
	}

	payload := c.completion(analysisPrompt(req.Payload), 0.0, 150)
	var raw string
	var out labels.Analysis
	attempts, err := c.run(ctx, KindStoryAnalysis, c.cfg.AnalysisTimeout, func(ctx context.Context) error {
		body, err := c.postJSON(ctx, c.cfg.ChatURL, payload)
		if err != nil {
			return err
		}
		content, err := extractor.ChoiceContent(body)
		if err != nil {
			raw = string(body)
			return err
		}
		raw = strings.TrimSpace(content)
		fields, err := extractor.ExtractObject(raw)
		if err != nil {
			return err
		}
		out, err = labels.ValidateAnalysis(fields)
		return err
	})
	res.Attempts = attempts
	if err != nil {
		log := c.log.WithField("kind", KindStoryAnalysis).WithField("attempts", attempts).WithField("error", err.Error())
		res.Fallback = true
		if errors.Is(err, ErrTransient) || ctx.Err() != nil {
			log.Error("analysis endpoint unreachable, returning fallback")
			res.Analysis = Analysis{Sentiment: labels.Neutral, Summary: APIErrorSummary, RawText: APIErrorRaw}
			return res
		}
		log.WithField("raw", truncate(raw, 100)).Error("analysis output unusable, returning fallback")
		res.Analysis = Analysis{Sentiment: labels.Neutral, Summary: ParseErrorSummary, RawText: raw}
		return res
	}
	res.Analysis = Analysis{Sentiment: out.Sentiment, Summary: out.Summary, RawText: raw}
	return res
}

// Reply returns a supportive reply, or FallbackReply. It never fails.
func (c *Client) Reply(ctx context.Context, message string, sentiment labels.Sentiment) string {
	return c.Infer(ctx, Request{Kind: KindChatCompletion, Payload: message, Sentiment: sentiment}).Reply
}

// Analyze classifies and summarizes a story. Fallback results are neutral.
func (c *Client) Analyze(ctx context.Context, text string) Analysis {
	return c.Infer(ctx, Request{Kind: KindStoryAnalysis, Payload: text}).Analysis
}
