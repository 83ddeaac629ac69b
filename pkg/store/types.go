// Package store persists the agent knowledge base, leads, and call
// sessions. The remote Postgres store and the local JSON file store both
// implement the same capability set; Tiered composes them so remote
// failures degrade silently to local.
package store

import "time"

// AgentConfig is the structured knowledge base the prompt compiler
// renders into the session instruction text.
type AgentConfig struct {
	CompanyName string      `json:"companyName"`
	About       string      `json:"about"`
	Products    []Product   `json:"products"`
	SalesScript string      `json:"salesScript"`
	Objections  []Objection `json:"objections"`
	FAQs        []FAQ       `json:"faqs"`
	VoiceName   string      `json:"voiceName"`
}

// Product is one catalog entry.
type Product struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

// Objection pairs a common objection with the scripted response.
type Objection struct {
	Objection string `json:"objection"`
	Response  string `json:"response"`
}

// FAQ is one question/answer pair.
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Lead is a sales prospect record.
type Lead struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	InterestedIn string    `json:"interestedIn"`
	Notes        string    `json:"notes"`
	Sentiment    string    `json:"sentiment"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// LeadPatch is a partial lead update. Nil fields are left unchanged.
type LeadPatch struct {
	Name         *string `json:"name,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	InterestedIn *string `json:"interestedIn,omitempty"`
	Notes        *string `json:"notes,omitempty"`
	Sentiment    *string `json:"sentiment,omitempty"`
	Status       *string `json:"status,omitempty"`
}

// apply mutates the lead in place and reports whether anything changed.
func (p LeadPatch) apply(lead *Lead) bool {
	changed := false
	set := func(dst *string, src *string) {
		if src != nil && *src != *dst {
			*dst = *src
			changed = true
		}
	}
	set(&lead.Name, p.Name)
	set(&lead.Phone, p.Phone)
	set(&lead.InterestedIn, p.InterestedIn)
	set(&lead.Notes, p.Notes)
	set(&lead.Sentiment, p.Sentiment)
	set(&lead.Status, p.Status)
	return changed
}

// Turn is one completed utterance of a call transcript.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// CallSession is one recorded conversation with a lead. Transcript turns
// are appended as they complete; RecordingRef is set once after the call
// ends.
type CallSession struct {
	ID           string    `json:"id"`
	LeadID       string    `json:"leadId"`
	CreatedAt    time.Time `json:"createdAt"`
	Transcript   []Turn    `json:"transcript"`
	RecordingRef string    `json:"recordingRef,omitempty"`
}
