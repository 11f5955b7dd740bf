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

package replica

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/tevinmoore/rosync/config"
	"github.com/tevinmoore/rosync/internal/apierror"
	"github.com/tevinmoore/rosync/internal/cache"
)

const tokenCacheKey = "replica:access_token"

// tokenExpirySlack is subtracted from the token lifetime before caching so a
// token is refreshed before it can expire mid-operation.
const tokenExpirySlack = 5 * time.Minute

// TokenSource mints access tokens for the replica API from the stored
// per-user refresh credential. Tokens are cached until shortly before expiry;
// refresh failures are terminal for the calling job, not retried beyond the
// short in-process backoff.
type TokenSource struct {
	conf  config.ReplicaConfig
	cache cache.Cache
}

func NewTokenSource(conf config.ReplicaConfig, cache cache.Cache) *TokenSource {
	return &TokenSource{conf: conf, cache: cache}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// Token returns a valid access token, refreshing it from the credential
// endpoint when the cached one is gone.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	var cached string
	if err := t.cache.Get(ctx, tokenCacheKey, &cached); err == nil && cached != "" {
		return cached, nil
	}

	token, ttl, err := t.refresh(ctx)
	if err != nil {
		return "", err
	}

	if err := t.cache.Set(ctx, tokenCacheKey, token, ttl); err != nil {
		// A failed cache write only costs an extra refresh next time.
		logrus.Warnf("failed to cache replica access token: %v", err)
	}
	return token, nil
}

// refresh exchanges the stored refresh token for an access token. Transient
// transport failures are retried briefly in process; a rejected credential is
// surfaced as an authentication failure immediately.
func (t *TokenSource) refresh(ctx context.Context) (string, time.Duration, error) {
	if t.conf.RefreshToken == "" {
		return "", 0, apierror.NewAPIError(apierror.ErrUnauthorized, "no linked replica account: refresh credential is empty", nil)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	var result tokenResponse
	operation := func() error {
		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("client_id", t.conf.ClientID)
		form.Set("client_secret", t.conf.ClientSecret)
		form.Set("refresh_token", t.conf.RefreshToken)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.conf.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				logrus.Error(err)
			}
		}()

		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && resp.StatusCode < 300 {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
			return backoff.Permanent(apierror.NewAPIError(apierror.ErrUnauthorized,
				"replica credential refresh rejected: "+result.Error, nil))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return apierror.NewAPIError(apierror.ErrInternalServer, "replica token endpoint failed", resp.Status)
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return "", 0, err
	}
	if result.AccessToken == "" {
		return "", 0, apierror.NewAPIError(apierror.ErrUnauthorized, "replica token endpoint returned no access token", nil)
	}

	ttl := time.Duration(result.ExpiresIn) * time.Second
	if ttl > tokenExpirySlack {
		ttl -= tokenExpirySlack
	}
	return result.AccessToken, ttl, nil
}
