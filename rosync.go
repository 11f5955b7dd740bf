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
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/tevinmoore/rosync/config"
	"github.com/tevinmoore/rosync/database"
	"github.com/tevinmoore/rosync/internal/cache"
	redis_db "github.com/tevinmoore/rosync/internal/redis-db"
	"github.com/tevinmoore/rosync/mail"
	"github.com/tevinmoore/rosync/replica"
)

var tracer = otel.Tracer("rosync.engine")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Rosync is the main service struct. It ties the store of record, the
// spreadsheet replica client, the mail client and the task queue together;
// every engine operation and worker handler hangs off it.
type Rosync struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	cache      cache.Cache
	replica    *replica.Client
	mail       *mail.Client
}

// NewRosync initializes the service with the provided datasource. It fetches
// the configuration and wires up the redis client, cache, replica client,
// mail client and queue.
func NewRosync(db database.IDataSource) (*Rosync, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	cacheInstance, err := cache.NewCache()
	if err != nil {
		return nil, err
	}

	tokens := replica.NewTokenSource(configuration.Replica, cacheInstance)
	replicaClient := replica.NewClient(configuration.Replica.BaseURL, tokens)
	mailClient := mail.NewClient(configuration.Mail)
	newQueue := NewQueue(configuration)

	return &Rosync{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		cache:      cacheInstance,
		replica:    replicaClient,
		mail:       mailClient,
	}, nil
}

// TaskQueue exposes the underlying task queue, mainly for the worker command.
func (r *Rosync) TaskQueue() *Queue {
	return r.queue
}
