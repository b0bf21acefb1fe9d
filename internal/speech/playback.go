package speech

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var qualityVoiceHints = []string{"natural", "neural", "premium", "enhanced", "google"}

type PlaybackOptions struct {
	Language string
	Logger   *zap.Logger
}

// Playback reads text aloud with at most one utterance active; the newest wins.
type Playback struct {
	engine Synthesizer
	lang   string
	logger *zap.Logger

	mu sync.Mutex
}

func NewPlayback(engine Synthesizer, opts PlaybackOptions) *Playback {
	lang := strings.TrimSpace(opts.Language)
	if lang == "" {
		lang = "en-US"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Playback{engine: engine, lang: lang, logger: logger}
}

func (p *Playback) Supported() bool { return p.engine != nil }

// Speak pre-empts whatever is playing and reads the cleaned text.
// Failures degrade silently; they are only logged.
func (p *Playback) Speak(ctx context.Context, text string) {
	if p.engine == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.engine.Cancel(); err != nil {
		p.logger.Debug("speech playback cancel failed", zap.Error(err))
	}
	cleaned := CleanForSpeech(text)
	if cleaned == "" {
		return
	}
	u := Utterance{
		Text:  cleaned,
		Voice: SelectVoice(p.engine.Voices(), p.lang),
		Lang:  p.lang,
	}
	if err := p.engine.Speak(ctx, u); err != nil {
		p.logger.Debug("speech playback failed", zap.Error(err))
	}
}

// Cancel stops playback immediately. Safe when idle.
func (p *Playback) Cancel() {
	if p.engine == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.engine.Cancel(); err != nil {
		p.logger.Debug("speech playback cancel failed", zap.Error(err))
	}
}

// SelectVoice prefers a natural-sounding voice for lang. An empty result means
// "engine default", which is also used when voices are not enumerated yet.
func SelectVoice(voices []Voice, lang string) string {
	if len(voices) == 0 {
		return ""
	}
	lang = strings.ToLower(lang)
	base, _, _ := strings.Cut(lang, "-")

	var exact, family []Voice
	for _, v := range voices {
		vl := strings.ToLower(strings.ReplaceAll(v.Lang, "_", "-"))
		switch {
		case vl == lang:
			exact = append(exact, v)
		case vl == base || strings.HasPrefix(vl, base+"-"):
			family = append(family, v)
		}
	}
	for _, group := range [][]Voice{exact, family} {
		for _, v := range group {
			name := strings.ToLower(v.Name)
			for _, hint := range qualityVoiceHints {
				if strings.Contains(name, hint) {
					return v.Name
				}
			}
		}
	}
	if len(exact) > 0 {
		return exact[0].Name
	}
	if len(family) > 0 {
		return family[0].Name
	}
	return ""
}
