package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

type OpenAIClient struct {
	client *openai.Client
}

// Analysis is the structured summary produced for one announcement document.
// It is forwarded to the delivery channel unmodified.
type Analysis struct {
	Summary    []string `json:"summary"`
	KeyFigures []string `json:"key_figures"`
	Outlook    string   `json:"outlook"`
	Sentiment  string   `json:"sentiment"`
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIClient{client: &client}
}

var analysisTerms = []string{"financial", "result", "profit", "revenue", "dividend"}
var businessTerms = []string{"order", "contract", "bid", "win", "bagged", "secured"}
var strategicTerms = []string{"merger", "acquisition", "partnership", "expansion"}
var quarterlyTerms = []string{"quarterly", "quarter ended", "q1", "q2", "q3", "q4", "unaudited", "audited"}

// ShouldAnalyze gates the document-analysis path: only financial, business
// development and strategic announcements are worth an AI pass.
func ShouldAnalyze(headline, category string) bool {
	h := strings.ToLower(headline)
	if strings.EqualFold(category, "financials") {
		return true
	}
	for _, terms := range [][]string{analysisTerms, businessTerms, strategicTerms} {
		for _, term := range terms {
			if strings.Contains(h, term) {
				return true
			}
		}
	}
	return false
}

func IsQuarterly(headline, category string) bool {
	h := strings.ToLower(headline)
	for _, term := range quarterlyTerms {
		if strings.Contains(h, term) {
			return true
		}
	}
	return strings.EqualFold(category, "financials")
}

// AnalyzeDocument summarizes extracted announcement text into an Analysis.
func (c *OpenAIClient) AnalyzeDocument(ctx context.Context, text, scripCode, headline string) (*Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no document text to analyze")
	}

	prompt := buildAnalysisPrompt(text, scripCode, headline)

	response, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: "gpt-4o-mini",
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String("You are an equity research analyst. Summarize Indian stock exchange filings into concise, factual notes for retail investors. Respond only with JSON."),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
		Temperature: openai.Float(0.1),
		MaxTokens:   openai.Int(1000),
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	content := response.Choices[0].Message.Content
	var analysis Analysis
	if err := json.Unmarshal([]byte(content), &analysis); err != nil {
		return nil, fmt.Errorf("failed to parse openai response: %w", err)
	}
	return &analysis, nil
}

func buildAnalysisPrompt(text, scripCode, headline string) string {
	const maxDocChars = 12000
	if len(text) > maxDocChars {
		text = text[:maxDocChars]
	}

	var sb strings.Builder
	sb.WriteString("Analyze this BSE announcement document and respond with JSON:\n")
	sb.WriteString(`{"summary": ["bullet", ...], "key_figures": ["figure", ...], "outlook": "one sentence", "sentiment": "positive|negative|neutral"}`)
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("Scrip code: %s\n", scripCode))
	sb.WriteString(fmt.Sprintf("Headline: %s\n\n", headline))
	sb.WriteString("Document text:\n")
	sb.WriteString(text)
	return sb.String()
}

// FormatMessage renders an Analysis as a Telegram-ready message.
func FormatMessage(analysis *Analysis, scripCode, headline string, annDT time.Time, quarterly bool) string {
	var sb strings.Builder
	if quarterly {
		sb.WriteString("📊 Quarterly Results Analysis\n")
	} else {
		sb.WriteString("🤖 AI Analysis\n")
	}
	sb.WriteString(fmt.Sprintf("🏢 Scrip: %s\n", scripCode))
	sb.WriteString(fmt.Sprintf("📋 %s\n", headline))
	if !annDT.IsZero() {
		sb.WriteString(fmt.Sprintf("📅 %s IST\n", annDT.Format("02-01-2006 15:04")))
	}
	sb.WriteString("\n")

	for _, bullet := range analysis.Summary {
		sb.WriteString("• " + bullet + "\n")
	}
	if len(analysis.KeyFigures) > 0 {
		sb.WriteString("\n🔢 Key figures:\n")
		for _, figure := range analysis.KeyFigures {
			sb.WriteString("  " + figure + "\n")
		}
	}
	if analysis.Outlook != "" {
		sb.WriteString("\n🔭 Outlook: " + analysis.Outlook + "\n")
	}
	if analysis.Sentiment != "" {
		sb.WriteString("😊 Sentiment: " + analysis.Sentiment + "\n")
	}
	return sb.String()
}
