package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SMSSender delivers OTP codes through an HTTP SMS gateway.
type SMSSender struct {
	apiKey  string
	sender  string
	baseURL string
	client  *http.Client
	dryRun  bool
}

type smsResponse struct {
	Code int `json:"code"`
	Data struct {
		MessageID string `json:"messageId"`
	} `json:"data"`
}

// NewSMSSender creates an SMS sender. With an empty API key it runs in
// dry-run mode and only logs, which keeps local development working without
// gateway credentials.
func NewSMSSender(apiKey, sender, baseURL string) *SMSSender {
	return &SMSSender{
		apiKey:  apiKey,
		sender:  sender,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		dryRun:  apiKey == "",
	}
}

// SendCode submits the verification code to the gateway.
func (s *SMSSender) SendCode(ctx context.Context, phone, code string) error {
	if s.dryRun {
		log.Printf("sms dry-run: would send code to %s", maskPhone(phone))
		return nil
	}

	form := url.Values{
		"apiKey":    {s.apiKey},
		"recipient": {phone},
		"text":      {fmt.Sprintf("Waypoint code: %s", code)},
	}
	if s.sender != "" {
		form.Set("from", s.sender)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read sms response: %w", err)
	}

	var result smsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parse sms response: %w", err)
	}
	if result.Code != 0 {
		return fmt.Errorf("sms gateway returned error code %d", result.Code)
	}
	return nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
