package mail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"hospital-patient-access/internal/platform/httpclient"
	"hospital-patient-access/internal/platform/logger"
)

var ErrNoRecipients = errors.New("mail: no recipients")

type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender no entrega nada: deja el mensaje en el log. Es el sender de desarrollo.
type LogSender struct {
	log logger.Logger
}

func NewLogSender(log logger.Logger) *LogSender {
	if log == nil {
		log = logger.Nop()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	s.log.Info("mail (not delivered)", map[string]any{
		"to":      strings.Join(msg.To, ","),
		"subject": msg.Subject,
	})
	// el cuerpo puede llevar el código: solo en debug
	s.log.Debug("mail body", map[string]any{"body": msg.Body})
	return nil
}

// RelaySender entrega por un relay HTTP (POST /v1/messages).
type RelaySender struct {
	client *httpclient.Client
	from   string
}

func NewRelaySender(client *httpclient.Client, from string) *RelaySender {
	return &RelaySender{client: client, from: strings.TrimSpace(from)}
}

type relayMessage struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

func (s *RelaySender) Send(ctx context.Context, msg Message) error {
	to := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	if len(to) == 0 {
		return ErrNoRecipients
	}

	from := strings.TrimSpace(msg.From)
	if from == "" {
		from = s.from
	}

	err := s.client.DoJSON(ctx, http.MethodPost, "/v1/messages", relayMessage{
		From:    from,
		To:      to,
		Subject: msg.Subject,
		Text:    msg.Body,
	}, nil)
	if err != nil {
		return fmt.Errorf("mail relay: %w", err)
	}
	return nil
}
