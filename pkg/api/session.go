package api

import (
	"encoding/json"
	"time"
)

// Session is the durable record of one invocation of the external
// content-generation process. It is created by StartWorkflow or
// RegenerateContent, mutated only through progress ingestion and the
// orchestrator's internal transitions, and deleted only by the retention
// sweep once terminal.
type Session struct {
	ID             string       `json:"session_id"`
	EventID        string       `json:"event_id"`
	UserID         string       `json:"user_id"`
	Status         Status       `json:"status"`
	CurrentStep    string       `json:"current_step"`
	CompletedSteps []string     `json:"completed_steps"`
	FailedSteps    []string     `json:"failed_steps"`
	StartedAt      time.Time    `json:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	LLMModel       string       `json:"llm_model,omitempty"`
	Preferences    Preferences  `json:"agent_config"`
}

// Clone returns a deep copy of the session. Stores hand out clones so
// callers can never mutate persisted state through a shared pointer.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.CompletedSteps = append([]string(nil), s.CompletedSteps...)
	out.FailedSteps = append([]string(nil), s.FailedSteps...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	out.Preferences = s.Preferences.Clone()
	return &out
}

// ContentType selects which part of the generated content a regeneration
// run targets.
type ContentType string

const (
	ContentFlyer    ContentType = "flyer"
	ContentSocial   ContentType = "social"
	ContentWhatsApp ContentType = "whatsapp"
	ContentAll      ContentType = "all"
)

// ParseContentType validates a regeneration target.
func ParseContentType(raw string) (ContentType, error) {
	switch ct := ContentType(raw); ct {
	case ContentFlyer, ContentSocial, ContentWhatsApp, ContentAll:
		return ct, nil
	}
	return "", &ValidationError{Field: "content_type", Reason: "must be one of flyer, social, whatsapp, all"}
}

// Preferences is the agent configuration captured at session creation
// time. Known fields are typed; anything else the caller sends is kept
// verbatim in Extra and round-trips through storage and dispatch.
type Preferences struct {
	FlyerStyle     string   `json:"flyer_style,omitempty"`
	TargetAudience []string `json:"target_audience,omitempty"`
	Platforms      []string `json:"platforms,omitempty"`
	Tone           string   `json:"tone,omitempty"`
	LLMModel       string   `json:"llm_model,omitempty"`

	// Extra preserves unknown preference fields end to end.
	Extra map[string]json.RawMessage `json:"-"`
}

// Clone returns a deep copy of the preferences.
func (p Preferences) Clone() Preferences {
	out := p
	out.TargetAudience = append([]string(nil), p.TargetAudience...)
	out.Platforms = append([]string(nil), p.Platforms...)
	if p.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(p.Extra))
		for k, v := range p.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// preferencesWire mirrors Preferences without the custom JSON methods.
type preferencesWire struct {
	FlyerStyle     string   `json:"flyer_style,omitempty"`
	TargetAudience []string `json:"target_audience,omitempty"`
	Platforms      []string `json:"platforms,omitempty"`
	Tone           string   `json:"tone,omitempty"`
	LLMModel       string   `json:"llm_model,omitempty"`
}

var knownPreferenceKeys = map[string]struct{}{
	"flyer_style":     {},
	"target_audience": {},
	"platforms":       {},
	"tone":            {},
	"llm_model":       {},
}

// MarshalJSON emits the known fields plus any preserved unknown fields as
// a single flat object.
func (p Preferences) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(preferencesWire{
		FlyerStyle:     p.FlyerStyle,
		TargetAudience: p.TargetAudience,
		Platforms:      p.Platforms,
		Tone:           p.Tone,
		LLMModel:       p.LLMModel,
	})
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return base, nil
	}
	return mergeFlatJSON(base, p.Extra, knownPreferenceKeys)
}

// UnmarshalJSON fills the known fields and stashes every unknown key in
// Extra so no caller-supplied configuration is lost.
func (p *Preferences) UnmarshalJSON(data []byte) error {
	var wire preferencesWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.FlyerStyle = wire.FlyerStyle
	p.TargetAudience = wire.TargetAudience
	p.Platforms = wire.Platforms
	p.Tone = wire.Tone
	p.LLMModel = wire.LLMModel
	p.Extra = nil
	for k, v := range raw {
		if _, known := knownPreferenceKeys[k]; known {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[k] = v
	}
	return nil
}

// mergeFlatJSON overlays extra keys onto an already-marshalled flat
// object. Extra keys that collide with known keys are dropped; the typed
// field wins.
func mergeFlatJSON(base []byte, extra map[string]json.RawMessage, known map[string]struct{}) ([]byte, error) {
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	if merged == nil {
		merged = make(map[string]json.RawMessage, len(extra))
	}
	for k, v := range extra {
		if _, clash := known[k]; clash {
			continue
		}
		if _, clash := merged[k]; clash {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}
