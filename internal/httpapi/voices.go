package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/alex/internal/speech"
)

type voiceSummary struct {
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Default bool   `json:"default,omitempty"`
	Local   bool   `json:"local,omitempty"`
}

type listVoicesResponse struct {
	Language string         `json:"language"`
	Selected string         `json:"selected"`
	Voices   []voiceSummary `json:"voices"`
}

// handleListVoices shows the voices the browser reported and the one replies
// will be read with. An empty selection means the engine default.
func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.activeSession(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var voices []speech.Voice
	if sess.Bridge != nil {
		voices = sess.Bridge.Voices()
	}
	out := make([]voiceSummary, 0, len(voices))
	for _, v := range voices {
		out = append(out, voiceSummary{Name: v.Name, Lang: v.Lang, Default: v.Default, Local: v.Local})
	}
	respondJSON(w, http.StatusOK, listVoicesResponse{
		Language: s.cfg.SpeechLanguage,
		Selected: speech.SelectVoice(voices, s.cfg.SpeechLanguage),
		Voices:   out,
	})
}
