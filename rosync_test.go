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

package rosync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jarcoal/httpmock"

	"github.com/tevinmoore/rosync/config"
	"github.com/tevinmoore/rosync/database/mocks"
	"github.com/tevinmoore/rosync/model"
)

// newTestRosync wires a service instance against miniredis, a mocked
// datasource and an intercepted HTTP layer. The replica access token is
// pre-seeded so no test ever reaches the credential endpoint.
func newTestRosync(t *testing.T) (*Rosync, *mocks.MockDataSource) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	t.Cleanup(mr.Close)

	config.MockConfig(&config.Configuration{
		DataSource: config.DataSourceConfig{Dns: "postgres://test"},
		Redis:      config.RedisConfig{Dns: mr.Addr()},
		Replica: config.ReplicaConfig{
			BaseURL:      "https://replica.example.com",
			WorkbookID:   "wb-1",
			TokenURL:     "https://login.example.com/token",
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RefreshToken: "stored-refresh-token",
		},
		Mail: config.MailConfig{
			BaseURL:     "https://mail.example.com",
			Token:       "mail-token",
			SenderEmail: "repairs@shop.example.com",
		},
	})

	ds := new(mocks.MockDataSource)
	rsync, err := NewRosync(ds)
	if err != nil {
		t.Fatalf("an error '%s' occurred when creating the service", err)
	}

	httpmock.Activate()
	httpmock.ActivateNonDefault(rsync.replica.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	if err := rsync.cache.Set(context.Background(), "replica:access_token", "test-token", time.Minute); err != nil {
		t.Fatalf("an error '%s' occurred when seeding the token cache", err)
	}
	return rsync, ds
}

func roPtr(v int64) *int64 { return &v }

func testRecord(id string, roNumber int64, status string) *model.Record {
	return &model.Record{
		RecordID:     id,
		RONumber:     roPtr(roNumber),
		Customer:     "Acme Aviation",
		PartNumber:   "PN-100",
		SerialNumber: "SN-200",
		Status:       status,
		ContactName:  "Dana",
		ContactEmail: "dana@acmeaviation.example.com",
		CreatedAt:    time.Now().Add(-48 * time.Hour),
	}
}

func registerSession(workbookID string) {
	httpmock.RegisterResponder("POST",
		fmt.Sprintf("https://replica.example.com/workbooks/%s/createSession", workbookID),
		httpmock.NewJsonResponderOrPanic(201, map[string]string{"id": "session-abc"}))
	httpmock.RegisterResponder("POST",
		fmt.Sprintf("https://replica.example.com/workbooks/%s/closeSession", workbookID),
		httpmock.NewStringResponder(204, ""))
}

func registerKeyColumn(sheet string, values [][]interface{}) {
	httpmock.RegisterResponderWithQuery("GET",
		fmt.Sprintf("https://replica.example.com/workbooks/wb-1/worksheets('%s')/range(address='A2:A10000')", sheet),
		"$select=values",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{"values": values}))
}

func registerUsedRange(sheet string, rowCount int) {
	httpmock.RegisterResponderWithQuery("GET",
		fmt.Sprintf("https://replica.example.com/workbooks/wb-1/worksheets('%s')/usedRange", sheet),
		"$select=rowCount",
		httpmock.NewJsonResponderOrPanic(200, map[string]int{"rowCount": rowCount}))
}

// registerBatch answers every sub-request of a workbook batch call with the
// status chosen by pick.
func registerBatch(pick func(id string) int) {
	httpmock.RegisterResponder("POST", "https://replica.example.com/workbooks/wb-1/$batch",
		func(req *http.Request) (*http.Response, error) {
			var body struct {
				Requests []struct {
					ID string `json:"id"`
				} `json:"requests"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return httpmock.NewStringResponse(400, err.Error()), nil
			}
			responses := make([]map[string]interface{}, 0, len(body.Requests))
			for _, r := range body.Requests {
				responses = append(responses, map[string]interface{}{"id": r.ID, "status": pick(r.ID)})
			}
			return httpmock.NewJsonResponse(200, map[string]interface{}{"responses": responses})
		})
}

func batchCallCount() int {
	return httpmock.GetCallCountInfo()["POST https://replica.example.com/workbooks/wb-1/$batch"]
}
