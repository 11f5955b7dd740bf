/*
Copyright 2024 Rosync Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package mail wraps the external messaging API the delivery worker sends
// through. Sends support thread continuity: passing the id of a prior message
// sets the reply headers so consecutive follow-ups land in one conversation.
package mail

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/tevinmoore/rosync/config"
	"github.com/tevinmoore/rosync/internal/apierror"
	"github.com/tevinmoore/rosync/internal/request"
)

// Message is one outbound send.
type Message struct {
	To        string `json:"to"`
	CC        string `json:"cc,omitempty"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// SendResult carries the delivered message's external ids. Both may need to
// be recovered with a follow-up query when the send endpoint accepts the
// message without echoing them back.
type SendResult struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// Client talks to the messaging API.
type Client struct {
	conf config.MailConfig
}

func NewClient(conf config.MailConfig) *Client {
	return &Client{conf: conf}
}

// Send delivers one message and returns its external ids. When the send
// response omits the ids, they are recovered by querying for messages sent to
// the recipient after the send started; the recovery is retried briefly since
// the sent message can take a moment to appear.
func (c *Client) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	if strings.TrimSpace(msg.To) == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "message has no recipient", nil)
	}

	sentAfter := time.Now().UTC().Add(-1 * time.Minute)

	payload, err := request.ToJsonReq(msg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.conf.BaseURL+"/messages/send", payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.conf.Token)

	var result SendResult
	resp, err := request.Call(req, &result)
	if err != nil && resp == nil {
		return nil, errors.Wrap(err, "sending message")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer,
			fmt.Sprintf("messaging API send failed with status %d", resp.StatusCode), nil)
	}

	if result.MessageID != "" && result.ConversationID != "" {
		return &result, nil
	}
	return c.recoverSentIDs(ctx, msg.To, sentAfter)
}

type sentMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SentAt         string `json:"sent_at"`
}

// recoverSentIDs finds the just-sent message by recipient and send window.
func (c *Client) recoverSentIDs(ctx context.Context, to string, sentAfter time.Time) (*SendResult, error) {
	var found *SendResult
	operation := func() error {
		params := url.Values{}
		params.Set("to", to)
		params.Set("sentAfter", sentAfter.Format(time.RFC3339))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.conf.BaseURL+"/messages?"+params.Encode(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.conf.Token)

		var listing struct {
			Messages []sentMessage `json:"messages"`
		}
		resp, err := request.Call(req, &listing)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("messaging API query failed with status %d", resp.StatusCode)
		}
		if len(listing.Messages) == 0 {
			return fmt.Errorf("sent message to %s not visible yet", to)
		}
		latest := listing.Messages[len(listing.Messages)-1]
		found = &SendResult{MessageID: latest.ID, ConversationID: latest.ConversationID}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, errors.Wrap(err, "recovering sent message ids")
	}
	return found, nil
}
