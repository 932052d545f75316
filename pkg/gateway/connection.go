package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/cuemby/spacetimed/internal/wire"
	"github.com/cuemby/spacetimed/pkg/algebra"
	"github.com/cuemby/spacetimed/pkg/bsatn"
	"github.com/cuemby/spacetimed/pkg/datastore"
	"github.com/cuemby/spacetimed/pkg/identity"
	"github.com/cuemby/spacetimed/pkg/metrics"
	"github.com/cuemby/spacetimed/pkg/reducerhost"
	"github.com/cuemby/spacetimed/pkg/storage/page"
	"github.com/cuemby/spacetimed/pkg/subscription"
)

// connection is one accepted WebSocket's state: its framing, bound
// identity, outbound queue, and the subscription ids it currently owns.
type connection struct {
	id       uuid.UUID
	ws       *websocket.Conn
	framing  Framing
	identity identity.Identity
	gw       *Gateway
	logger   zerolog.Logger

	queue  *sendQueue
	outbox subscription.Outbox

	mu      sync.Mutex
	queries map[uint32][]string // Subscribe QueryID -> table names registered under it

	lastActive atomicTime
}

// run drives conn until the socket closes or the context is canceled,
// firing client_connected/client_disconnected around its lifetime.
func (c *connection) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.gw.broker.Unregister(c.id)
	defer c.ws.Close(websocket.StatusNormalClosure, "")

	now := time.Now()
	c.lastActive.set(now)
	c.gw.host.FireClientConnected(c.identity, now, c.id)
	defer func() {
		c.gw.host.FireClientDisconnected(c.identity, time.Now(), c.id)
	}()

	c.sendIdentityToken()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.writeLoop(ctx) }()
	go func() { defer wg.Done(); c.keepaliveLoop(ctx) }()

	c.readLoop(ctx, cancel)
	wg.Wait()
}

func (c *connection) sendIdentityToken() {
	c.send(wire.ServerMessage{Kind: wire.KindIdentityToken, IdentityToken: &wire.IdentityToken{Identity: c.identity.String()}})
}

// readLoop decodes and dispatches client messages until the socket closes.
func (c *connection) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		c.lastActive.set(time.Now())
		msg, err := c.decode(typ, data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("gateway: malformed client message")
			c.ws.Close(websocket.StatusProtocolError, "malformed message")
			return
		}
		c.handle(msg)
	}
}

func (c *connection) decode(typ websocket.MessageType, data []byte) (wire.ClientMessage, error) {
	if c.framing == FramingBinary {
		return wire.DecodeClientMessage(data)
	}
	var m wire.ClientMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

func (c *connection) handle(msg wire.ClientMessage) {
	switch msg.Kind {
	case wire.KindCallReducer:
		c.handleCallReducer(msg.CallReducer)
	case wire.KindSubscribe:
		c.handleSubscribe(msg.Subscribe)
	case wire.KindUnsubscribe:
		c.handleUnsubscribe(msg.Unsubscribe)
	case wire.KindOneOffQuery:
		c.handleOneOffQuery(msg.OneOffQuery)
	}
}

func (c *connection) handleCallReducer(req *wire.CallReducer) {
	if req == nil {
		return
	}
	start := time.Now()
	connID := c.id
	result := c.gw.host.Dispatch(c.identity, start, &connID, req.Name, req.Args, c.gw.budget)
	dur := time.Since(start)

	upd := &wire.TransactionUpdate{
		RequestID:               req.RequestID,
		EnergyUsedQuanta:        result.EnergyUsed.String(),
		HostExecutionDurationMs: float64(dur.Microseconds()) / 1000.0,
	}
	switch result.State {
	case reducerhost.StateCommitted:
		upd.Status = wire.StatusCommitted
		upd.TableUpdates = encodeTxDataTableUpdates(c.gw.ds, result.TxData)
		c.fanOutSubscriptions(result.TxData)
	case reducerhost.StateFailed:
		upd.Status = wire.StatusFailed
		if result.Err != nil {
			upd.Message = result.Err.Error()
		}
	default:
		upd.Status = wire.StatusOutOfEnergy
		if result.Err != nil {
			upd.Message = result.Err.Error()
		}
	}
	c.send(wire.ServerMessage{Kind: wire.KindTransactionUpdate, TransactionUpdate: upd})
}

func (c *connection) handleSubscribe(req *wire.Subscribe) {
	if req == nil || c.gw.resolve == nil {
		return
	}
	var queries []subscription.Query
	var names []string
	for _, tableName := range req.Queries {
		tableID, public, ok := c.gw.resolve(tableName)
		if !ok {
			continue
		}
		queries = append(queries, subscription.Query{
			Name:      tableName,
			Table:     tableID,
			Predicate: func(algebra.ProductValue) bool { return true },
			Private:   !public,
		})
		names = append(names, tableName)
	}
	sub, err := subscription.NewSubscription(c.id, queries)
	if err != nil {
		if _, isPrivate := err.(*subscription.ErrPrivateTable); !isPrivate || c.identity != c.gw.owner {
			c.ws.Close(websocket.StatusPolicyViolation, "subscription references a private table")
			return
		}
		// Owner subscribing to its own private tables: rebuild the
		// subscription without the rejection check.
		sub = subscription.Subscription{Connection: c.id, Queries: queries}
	}
	c.gw.broker.Subscribe(sub)

	c.mu.Lock()
	c.queries[req.QueryID] = names
	c.mu.Unlock()

	rtx := c.gw.ds.BeginRead()
	var initial []wire.TableUpdate
	for _, q := range queries {
		tu, err := subscription.InitialUpdate(rtx, q)
		if err != nil {
			continue
		}
		initial = append(initial, encodeSubscriptionTableUpdate(c.gw.ds, tu))
	}
	rtx.Release()

	c.send(wire.ServerMessage{Kind: wire.KindSubscriptionUpdate, SubscriptionUpdate: &wire.SubscriptionUpdate{QueryID: req.QueryID, TableUpdates: initial}})
}

func (c *connection) handleUnsubscribe(req *wire.Unsubscribe) {
	if req == nil {
		return
	}
	c.mu.Lock()
	names := c.queries[req.QueryID]
	delete(c.queries, req.QueryID)
	c.mu.Unlock()
	c.gw.broker.Unsubscribe(c.id, names)
}

// handleOneOffQuery is a stand-in for the SQL planner's one-shot query
// path, which is out of scope here: it resolves the query string as a
// bare table name and returns every live row, the same simplification
// handleSubscribe makes.
func (c *connection) handleOneOffQuery(req *wire.OneOffQuery) {
	if req == nil {
		return
	}
	resp := &wire.OneOffQueryResponse{ID: req.ID}
	if c.gw.resolve == nil {
		resp.Error = "query resolution unavailable"
		c.send(wire.ServerMessage{Kind: wire.KindOneOffQueryResponse, OneOffQueryResponse: resp})
		return
	}
	tableID, public, ok := c.gw.resolve(req.SQL)
	switch {
	case !ok:
		resp.Error = "unknown table"
	case !public && c.identity != c.gw.owner:
		resp.Error = "table is not public"
	default:
		schema := c.gw.ds.Schema(tableID)
		rtx := c.gw.ds.BeginRead()
		err := rtx.Scan(tableID, func(_ page.Pointer, row algebra.ProductValue) error {
			raw, encErr := bsatn.EncodeProduct(schema, row)
			if encErr != nil {
				return encErr
			}
			resp.Rows = append(resp.Rows, raw)
			return nil
		})
		rtx.Release()
		if err != nil {
			resp.Error = err.Error()
		}
	}
	c.send(wire.ServerMessage{Kind: wire.KindOneOffQueryResponse, OneOffQueryResponse: resp})
}

// fanOutSubscriptions evaluates every registered subscription against txd
// and delivers each connection's share, except this connection's own
// (already folded into its TransactionUpdate above).
func (c *connection) fanOutSubscriptions(txd datastore.TxData) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SubscriptionEvaluateDuration)
	subs := c.gw.broker.Subscriptions()
	updates := subscription.Evaluate(txd, subs)
	delete(updates, c.id)
	c.gw.broker.Publish(updates)
}

func (c *connection) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.queue.frames:
			if !ok {
				return
			}
			c.writeFrame(ctx, frame)
		case delivery, ok := <-c.outbox:
			if !ok {
				return
			}
			c.writeDelivery(ctx, delivery)
		}
	}
}

func (c *connection) writeDelivery(ctx context.Context, d subscription.Delivery) {
	byQuery := make(map[uint32][]wire.TableUpdate)
	c.mu.Lock()
	for _, u := range d.Updates {
		qid := c.queryIDForLocked(u.Query)
		byQuery[qid] = append(byQuery[qid], encodeSubscriptionTableUpdate(c.gw.ds, u))
	}
	c.mu.Unlock()

	for qid, updates := range byQuery {
		c.send(wire.ServerMessage{Kind: wire.KindSubscriptionUpdate, SubscriptionUpdate: &wire.SubscriptionUpdate{QueryID: qid, TableUpdates: updates}})
	}
	_ = ctx
}

// queryIDForLocked resolves which Subscribe QueryID a table name belongs
// to; caller holds c.mu.
func (c *connection) queryIDForLocked(tableName string) uint32 {
	for id, names := range c.queries {
		for _, n := range names {
			if n == tableName {
				return id
			}
		}
	}
	return 0
}

func (c *connection) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(c.gw.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(c.lastActive.get()) > c.gw.keepalive {
				c.ws.Close(websocket.StatusGoingAway, "keepalive timeout")
				return
			}
			pingCtx, cancel := context.WithTimeout(ctx, c.gw.keepalive/2)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *connection) send(msg wire.ServerMessage) {
	frame, err := c.encode(msg)
	if err != nil {
		c.gw.logger.Error().Err(err).Msg("gateway: encode outbound message failed")
		return
	}
	slow, err := c.queue.push(frame)
	if err != nil {
		metrics.GatewayBackpressureDisconnectsTotal.Inc()
		c.ws.Close(websocket.StatusPolicyViolation, "backpressure hard watermark exceeded")
		return
	}
	if slow {
		c.logger.Warn().Msg("gateway: connection marked slow")
	}
}

func (c *connection) encode(msg wire.ServerMessage) ([]byte, error) {
	if c.framing == FramingBinary {
		return wire.EncodeServerMessage(msg)
	}
	return json.Marshal(msg)
}

func (c *connection) writeFrame(ctx context.Context, frame []byte) {
	typ := websocket.MessageBinary
	if c.framing == FramingJSON {
		typ = websocket.MessageText
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = c.ws.Write(writeCtx, typ, frame)
}

// encodeTxDataTableUpdates groups a committed transaction's row changes by
// table and BSATN-encodes each row against its schema, producing the
// TableUpdates a TransactionUpdate carries back to the caller.
func encodeTxDataTableUpdates(ds *datastore.Datastore, txd datastore.TxData) []wire.TableUpdate {
	order := make([]datastore.TableId, 0)
	byTable := make(map[datastore.TableId]*wire.TableUpdate)
	for _, ch := range txd.Changes {
		tu, ok := byTable[ch.Table]
		if !ok {
			tu = &wire.TableUpdate{Table: uint32(ch.Table)}
			byTable[ch.Table] = tu
			order = append(order, ch.Table)
		}
		raw, err := bsatn.EncodeProduct(ds.Schema(ch.Table), ch.Row)
		if err != nil {
			continue
		}
		switch ch.Op {
		case datastore.OpDelete:
			tu.Deletes = append(tu.Deletes, raw)
		case datastore.OpInsert:
			tu.Inserts = append(tu.Inserts, raw)
		}
	}
	out := make([]wire.TableUpdate, 0, len(order))
	for _, t := range order {
		out = append(out, *byTable[t])
	}
	return out
}

// encodeSubscriptionTableUpdate BSATN-encodes one subscription.TableUpdate's
// rows against its table's schema for wire delivery.
func encodeSubscriptionTableUpdate(ds *datastore.Datastore, u subscription.TableUpdate) wire.TableUpdate {
	schema := ds.Schema(u.Table)
	tu := wire.TableUpdate{Table: uint32(u.Table)}
	for _, row := range u.Deletes {
		if raw, err := bsatn.EncodeProduct(schema, row); err == nil {
			tu.Deletes = append(tu.Deletes, raw)
		}
	}
	for _, row := range u.Inserts {
		if raw, err := bsatn.EncodeProduct(schema, row); err == nil {
			tu.Inserts = append(tu.Inserts, raw)
		}
	}
	return tu
}
