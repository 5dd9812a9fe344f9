// Copyright 2024-2026 Aiku AI

package connector

import "strings"

type commandRule struct {
	keywords []string
	reply    string
}

// Responder picks a canned reply for a text message. Rules are checked in
// order and the first rule with a keyword contained in the text wins.
type Responder struct {
	rules    []commandRule
	fallback string
}

func NewResponder(msgs *Messages) *Responder {
	return &Responder{
		rules: []commandRule{
			{keywords: []string{"help", "bantuan"}, reply: msgs.Help},
			{keywords: []string{"info"}, reply: msgs.Info},
			{keywords: []string{"ping"}, reply: msgs.Ping},
		},
		fallback: msgs.Prompt,
	}
}

// Respond returns the reply for text. Matching is case-insensitive.
func (r *Responder) Respond(text string) string {
	text = normalizeText(text)
	for _, rule := range r.rules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.reply
			}
		}
	}
	return r.fallback
}

func normalizeText(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
