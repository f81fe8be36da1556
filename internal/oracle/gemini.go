package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/voxhire/voxhire/internal/audio"
	"github.com/voxhire/voxhire/internal/interview"
)

const (
	DefaultTextModel   = "gemini-2.0-flash"
	DefaultSpeechModel = "gemini-2.5-flash-preview-tts"
	DefaultVoice       = "Kore"
)

// Synthesized speech comes back as raw 16-bit mono PCM at 24kHz.
var speechFormat = audio.Format{SampleRateHz: 24000, Channels: 1, BitsPerSample: 16}

// GeminiConfig configures the scripted-mode Gemini client.
type GeminiConfig struct {
	APIKey      string
	TextModel   string
	SpeechModel string
	Voice       string
}

// Gemini implements the dialogue oracle on the Gemini API.
type Gemini struct {
	client      *genai.Client
	textModel   string
	speechModel string
	voice       string
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle: api key is required")
	}
	if cfg.TextModel == "" {
		cfg.TextModel = DefaultTextModel
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = DefaultSpeechModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: create client: %w", err)
	}
	return &Gemini{
		client:      client,
		textModel:   cfg.TextModel,
		speechModel: cfg.SpeechModel,
		voice:       cfg.Voice,
	}, nil
}

func (g *Gemini) generateText(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.textModel, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.7),
	})
	if err != nil {
		return "", fmt.Errorf("oracle: generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("oracle: empty model response")
	}
	return text, nil
}

// GenerateQuestion produces the next question for the target dimension,
// conditioned on the conversation so far.
func (g *Gemini) GenerateQuestion(ctx context.Context, ic Context) (Question, error) {
	system := "You are a professional interviewer conducting a spoken screening interview. " +
		"Ask one clear question at a time. Questions must be answerable out loud in a minute or two. " +
		"Respond with the question text only, no preamble and no numbering."

	var b strings.Builder
	fmt.Fprintf(&b, "Position: %s\n", ic.Position)
	if ic.Candidate != "" {
		fmt.Fprintf(&b, "Candidate: %s\n", ic.Candidate)
	}
	fmt.Fprintf(&b, "Evaluation dimensions: %s\n", strings.Join(ic.Dimensions, ", "))
	fmt.Fprintf(&b, "Turn %d of at most %d.\n", len(ic.Turns)+1, ic.MaxTurns)
	if len(ic.Turns) == 0 {
		b.WriteString("This is the opening question. Greet the candidate briefly first.\n")
	} else {
		b.WriteString("Conversation so far:\n")
		for _, t := range ic.Turns {
			fmt.Fprintf(&b, "Q%d (%s): %s\nA%d: %s\n", t.Number, t.Dimension, t.Question, t.Number, t.Answer)
		}
	}
	if ic.MustCover {
		b.WriteString("The remaining turns are only just enough to reach every dimension, so do not revisit ground already covered.\n")
	}
	fmt.Fprintf(&b, "Ask the next question. It must probe the dimension %q. Do not repeat a question already asked.", ic.Target)

	text, err := g.generateText(ctx, system, b.String())
	if err != nil {
		return Question{}, err
	}
	return Question{Dimension: ic.Target, Text: text}, nil
}

// EvaluateAnswer scores one answer against its dimension.
func (g *Gemini) EvaluateAnswer(ctx context.Context, position, question, answer, dimension string) (Evaluation, error) {
	system := "You evaluate interview answers. Respond with a JSON object " +
		`{"score": <integer 0-5>, "commentary": "<one or two sentences>"} and nothing else.`

	prompt := fmt.Sprintf(
		"Position: %s\nDimension under evaluation: %s\nQuestion: %s\nAnswer (speech transcript, may contain disfluencies): %s",
		position, dimension, question, answer,
	)
	text, err := g.generateText(ctx, system, prompt)
	if err != nil {
		return Evaluation{}, err
	}
	return parseEvaluation(text), nil
}

// GenerateReport writes the terminal report over the full transcript.
func (g *Gemini) GenerateReport(ctx context.Context, position string, turns []interview.Turn, dimensions []string) (interview.Report, error) {
	system := "You write hiring screen reports. Respond with a JSON object " +
		`{"dimension_scores": {"<dimension>": <number 0-5>, ...}, "strengths": [...], "risks": [...], ` +
		`"recommendation": "RECOMMENDED"|"CAUTIOUS"|"NOT_RECOMMENDED", "summary": "<short paragraph>"} and nothing else.`

	var b strings.Builder
	fmt.Fprintf(&b, "Position: %s\nDimensions: %s\nTranscript:\n", position, strings.Join(dimensions, ", "))
	for _, t := range turns {
		fmt.Fprintf(&b, "Q%d (%s, scored %.0f/5): %s\nA%d: %s\n", t.Number, t.Dimension, t.Score, t.Question, t.Number, t.Answer)
	}
	text, err := g.generateText(ctx, system, b.String())
	if err != nil {
		return interview.Report{}, err
	}

	report := parseReport(text, dimensions, turns)
	report.Transcript = turns
	return report, nil
}

// Transcribe converts one WAV-encoded answer to text.
func (g *Gemini) Transcribe(ctx context.Context, wav []byte) (string, error) {
	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText("Transcribe this audio verbatim. Respond with the transcript text only. If the audio contains no intelligible speech, respond with an empty string."),
		genai.NewPartFromBytes(wav, "audio/wav"),
	}, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, g.textModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("oracle: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// Synthesize renders text as speech and returns a playable WAV buffer.
func (g *Gemini) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.speechModel, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: g.voice},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: synthesize: %w", err)
	}
	pcm := inlineAudio(resp)
	if len(pcm) == 0 {
		return nil, fmt.Errorf("oracle: no audio in speech response")
	}
	out, err := audio.EncodeWAV(pcm, speechFormat)
	if err != nil {
		return nil, fmt.Errorf("oracle: wrap speech: %w", err)
	}
	return out, nil
}

func inlineAudio(resp *genai.GenerateContentResponse) []byte {
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data
			}
		}
	}
	return nil
}

// parseEvaluation extracts score and commentary from the model's reply. A
// missing or unparseable score defaults to 3; out-of-range scores clamp to
// [0, 5].
func parseEvaluation(text string) Evaluation {
	var parsed struct {
		Score      float64 `json:"score"`
		Commentary string  `json:"commentary"`
	}
	raw := extractJSONObject(text)
	if raw == "" || json.Unmarshal([]byte(raw), &parsed) != nil {
		return Evaluation{Score: 3, Commentary: strings.TrimSpace(text)}
	}
	return Evaluation{Score: clampScore(parsed.Score), Commentary: parsed.Commentary}
}

// parseReport extracts the structured report. When the model reply is not
// valid JSON the caller still gets a usable report: every dimension scored
// from the per-turn scores, a CAUTIOUS recommendation and the raw reply as
// summary.
func parseReport(text string, dimensions []string, turns []interview.Turn) interview.Report {
	var parsed struct {
		DimensionScores map[string]float64 `json:"dimension_scores"`
		Strengths       []string           `json:"strengths"`
		Risks           []string           `json:"risks"`
		Recommendation  string             `json:"recommendation"`
		Summary         string             `json:"summary"`
	}
	raw := extractJSONObject(text)
	if raw == "" || json.Unmarshal([]byte(raw), &parsed) != nil {
		return defaultReport(text, dimensions, turns)
	}

	scores := make(map[string]float64, len(dimensions))
	for _, d := range dimensions {
		if s, ok := parsed.DimensionScores[d]; ok {
			scores[d] = clampScore(s)
		} else {
			scores[d] = averageScore(d, turns)
		}
	}
	rec := interview.Recommendation(parsed.Recommendation)
	switch rec {
	case interview.Recommended, interview.Cautious, interview.NotRecommended:
	default:
		rec = interview.Cautious
	}
	return interview.Report{
		DimensionScores: scores,
		Strengths:       parsed.Strengths,
		Risks:           parsed.Risks,
		Recommendation:  rec,
		Summary:         parsed.Summary,
	}
}

func defaultReport(text string, dimensions []string, turns []interview.Turn) interview.Report {
	scores := make(map[string]float64, len(dimensions))
	for _, d := range dimensions {
		scores[d] = averageScore(d, turns)
	}
	summary := strings.TrimSpace(text)
	if len(summary) > 500 {
		summary = summary[:500]
	}
	return interview.Report{
		DimensionScores: scores,
		Recommendation:  interview.Cautious,
		Summary:         summary,
	}
}

func averageScore(dimension string, turns []interview.Turn) float64 {
	var sum float64
	var n int
	for _, t := range turns {
		if t.Dimension == dimension && t.Answered {
			sum += t.Score
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 5 {
		return 5
	}
	return s
}

// extractJSONObject finds the outermost JSON object in a model reply,
// tolerating markdown fences and prose around it.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
