package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// apiTransport posts mail to the process-wide HTTP mail provider.
type apiTransport struct {
	url    string
	token  string
	client *http.Client
}

func newAPITransport(url, token string) *apiTransport {
	return &apiTransport{url: url, token: token, client: http.DefaultClient}
}

type apiMessage struct {
	From        string          `json:"from"`
	To          []string        `json:"to"`
	Subject     string          `json:"subject"`
	TextBody    string          `json:"text_body"`
	Attachments []apiAttachment `json:"attachments"`
}

type apiAttachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
}

func (t *apiTransport) send(ctx context.Context, from string, to []string, subject, method string, body []byte) error {
	msg := apiMessage{
		From:     from,
		To:       to,
		Subject:  subject,
		TextBody: subject,
		Attachments: []apiAttachment{{
			Name:        "invite.ics",
			ContentType: fmt.Sprintf("text/calendar; method=%s; charset=UTF-8", method),
			Content:     base64.StdEncoding.EncodeToString(body),
		}},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to mail provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mail provider returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}
