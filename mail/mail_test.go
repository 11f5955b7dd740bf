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

package mail

import (
	"context"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/tevinmoore/rosync/config"
	"github.com/tevinmoore/rosync/internal/apierror"
)

func testClient() *Client {
	return NewClient(config.MailConfig{
		BaseURL:     "https://mail.example.com",
		Token:       "mail-token",
		SenderEmail: "repairs@shop.example.com",
	})
}

func TestSendReturnsIDsDirectly(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://mail.example.com/messages/send",
		httpmock.NewJsonResponderOrPanic(200, map[string]string{
			"message_id":      "msg-123",
			"conversation_id": "conv-456",
		}))

	result, err := testClient().Send(context.Background(), &Message{
		To:      "dana@floridaaero.example.com",
		Subject: "Repair order 1001 follow up",
		Body:    "Checking in on the open quote.",
	})
	assert.NoError(t, err)
	assert.Equal(t, "msg-123", result.MessageID)
	assert.Equal(t, "conv-456", result.ConversationID)
}

func TestSendRecoversIDsFromQuery(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	// The send endpoint accepts the message but echoes nothing back
	httpmock.RegisterResponder("POST", "https://mail.example.com/messages/send",
		httpmock.NewJsonResponderOrPanic(202, map[string]string{}))

	httpmock.RegisterResponder("GET", `=~^https://mail\.example\.com/messages\?`,
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{
			"messages": []map[string]string{
				{"id": "msg-789", "conversation_id": "conv-222", "sent_at": "2024-03-05T10:00:00Z"},
			},
		}))

	result, err := testClient().Send(context.Background(), &Message{
		To:      "dana@floridaaero.example.com",
		Subject: "Repair order 1001 follow up",
		Body:    "Checking in on the open quote.",
	})
	assert.NoError(t, err)
	assert.Equal(t, "msg-789", result.MessageID)
	assert.Equal(t, "conv-222", result.ConversationID)
}

func TestSendWithoutRecipient(t *testing.T) {
	_, err := testClient().Send(context.Background(), &Message{
		Subject: "no recipient",
		Body:    "body",
	})
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrInvalidInput, apiErr.Code)
}

func TestSendFailureStatus(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://mail.example.com/messages/send",
		httpmock.NewJsonResponderOrPanic(502, map[string]string{"error": "upstream down"}))

	_, err := testClient().Send(context.Background(), &Message{
		To:      "dana@floridaaero.example.com",
		Subject: "subject",
		Body:    "body",
	})
	assert.Error(t, err)
}
