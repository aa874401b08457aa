// Package fanout relays broadcast frames between chat nodes over redis
// pub/sub. Every node delivers to its own sockets and republishes for others.
package fanout

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chat-core/internal/observability"
)

const DefaultChannel = "chat:fanout"

// LocalDeliverer writes a frame to the sockets of usernames on this node.
type LocalDeliverer interface {
	DeliverLocal(usernames []string, frame []byte)
}

type envelope struct {
	Node      string          `json:"node"`
	Usernames []string        `json:"usernames"`
	Frame     json.RawMessage `json:"frame"`
}

// Relay delivers locally and, when redis is configured, to every other node.
type Relay struct {
	rdb     *redis.Client
	channel string
	node    string
	local   LocalDeliverer
	log     *zap.Logger
}

func NewRelay(rdb *redis.Client, channel string, local LocalDeliverer, log *zap.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{
		rdb:     rdb,
		channel: channel,
		node:    uuid.NewString(),
		local:   local,
		log:     log,
	}
}

// Node is the id this relay stamps on outgoing envelopes.
func (r *Relay) Node() string { return r.node }

// Broadcast sends frame to every connection of usernames across the cluster.
func (r *Relay) Broadcast(ctx context.Context, usernames []string, frame []byte) {
	if len(usernames) == 0 {
		return
	}
	r.local.DeliverLocal(usernames, frame)
	if r.rdb == nil {
		return
	}

	payload, err := json.Marshal(envelope{Node: r.node, Usernames: usernames, Frame: frame})
	if err != nil {
		r.log.Error("fanout encode failed", zap.Error(err))
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.log.Warn("fanout publish failed", zap.Error(err))
		return
	}
	observability.IncFanout("out")
}

// Run consumes frames published by other nodes until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	if r.rdb == nil {
		<-ctx.Done()
		return nil
	}
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return err
	}
	r.log.Info("fanout subscribed", zap.String("channel", r.channel), zap.String("node", r.node))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle([]byte(msg.Payload))
		}
	}
}

func (r *Relay) handle(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.log.Warn("fanout decode failed", zap.Error(err))
		return
	}
	if env.Node == r.node {
		return
	}
	observability.IncFanout("in")
	r.local.DeliverLocal(env.Usernames, env.Frame)
}
