// Package ingest turns inbound email webhook payloads into calendar
// events: provider payload normalization, iCal attachment selection and
// the iTIP METHOD dispatch.
package ingest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Attachment is one normalized attachment. Inline providers fill
// Content; fetch providers fill FetchURL and the bytes are pulled with
// the calendar's provider API key.
type Attachment struct {
	ContentType string
	Name        string
	Content     string
	FetchURL    string
}

// Payload is the provider-independent shape of an inbound message.
type Payload struct {
	To          string
	Subject     string
	TextBody    string
	Attachments []Attachment
}

// envelope accepts both provider JSON shapes: the inline provider sends
// PascalCase keys with base64 attachment content, the fetch provider
// sends snake_case keys with attachment URLs.
type envelope struct {
	To       string `json:"To"`
	ToSnake  string `json:"to"`
	Subject  string `json:"Subject"`
	SubSnake string `json:"subject"`
	TextBody string `json:"TextBody"`
	Body     string `json:"text_body"`

	Attachments []struct {
		Name        string `json:"Name"`
		NameSnake   string `json:"name"`
		FileName    string `json:"file_name"`
		ContentType string `json:"ContentType"`
		CTSnake     string `json:"content_type"`
		Content     string `json:"Content"`
		URL         string `json:"url"`
	} `json:"Attachments"`
	AttSnake []struct {
		Name        string `json:"name"`
		FileName    string `json:"file_name"`
		ContentType string `json:"content_type"`
		Content     string `json:"content"`
		URL         string `json:"url"`
	} `json:"attachments"`
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ParsePayload normalizes a raw webhook body.
func ParsePayload(body []byte) (*Payload, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	p := &Payload{
		To:       firstOf(env.To, env.ToSnake),
		Subject:  firstOf(env.Subject, env.SubSnake),
		TextBody: firstOf(env.TextBody, env.Body),
	}
	for _, a := range env.Attachments {
		p.Attachments = append(p.Attachments, Attachment{
			ContentType: firstOf(a.ContentType, a.CTSnake),
			Name:        firstOf(a.Name, a.NameSnake, a.FileName),
			Content:     a.Content,
			FetchURL:    a.URL,
		})
	}
	for _, a := range env.AttSnake {
		p.Attachments = append(p.Attachments, Attachment{
			ContentType: a.ContentType,
			Name:        firstOf(a.Name, a.FileName),
			Content:     a.Content,
			FetchURL:    a.URL,
		})
	}
	return p, nil
}

// ToLocalPart returns the lowercased local part of the To address, with
// any "Display Name <addr>" wrapper removed.
func (p *Payload) ToLocalPart() string {
	addr := strings.TrimSpace(p.To)
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = strings.TrimSuffix(addr[i+1:], ">")
	}
	at := strings.Index(addr, "@")
	if at <= 0 {
		return ""
	}
	return strings.ToLower(addr[:at])
}

// SelectICal picks the iCal attachment, or falls back to the text body
// when it carries a VCALENDAR.
func (p *Payload) SelectICal() (*Attachment, bool) {
	for i := range p.Attachments {
		a := &p.Attachments[i]
		ct := strings.ToLower(a.ContentType)
		if strings.Contains(ct, "text/calendar") || strings.Contains(ct, "application/ics") {
			return a, false
		}
		if strings.HasSuffix(strings.ToLower(a.Name), ".ics") {
			return a, false
		}
	}
	if strings.Contains(p.TextBody, "BEGIN:VCALENDAR") {
		return nil, true
	}
	return nil, false
}

// DecodeContent returns the attachment bytes for inline content. Content
// that matches the base64 charset and does not already contain a
// VCALENDAR marker is decoded; anything else is taken as literal UTF-8.
func DecodeContent(content string) []byte {
	trimmed := strings.TrimSpace(content)
	if looksLikeBase64(trimmed) {
		if b, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
			return b
		}
	}
	return []byte(content)
}

func looksLikeBase64(s string) bool {
	if s == "" || strings.Contains(s, "BEGIN:VCALENDAR") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '+', r == '/', r == '=', r == '\n', r == '\r':
		default:
			return false
		}
	}
	return true
}
