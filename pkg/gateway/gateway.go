package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/cuemby/spacetimed/pkg/datastore"
	"github.com/cuemby/spacetimed/pkg/energy"
	"github.com/cuemby/spacetimed/pkg/identity"
	"github.com/cuemby/spacetimed/pkg/log"
	"github.com/cuemby/spacetimed/pkg/metrics"
	"github.com/cuemby/spacetimed/pkg/reducerhost"
	"github.com/cuemby/spacetimed/pkg/subscription"
)

// TableResolver maps a subscribed query's table name to its TableId. The
// SQL parser/planner that would normally compile a full query into a
// physical plan is an external collaborator; the gateway's own query
// handling only goes as far as resolving a bare table name to a predicate
// that matches every row, which is enough to exercise the subscription
// engine end-to-end.
type TableResolver func(name string) (id datastore.TableId, public bool, ok bool)

// Gateway serves one database's WebSocket endpoint. Construct one per
// published database; a process hosting several databases constructs
// several Gateways, never a shared global.
type Gateway struct {
	host      *reducerhost.Host
	ds        *datastore.Datastore
	broker    *subscription.Broker
	resolve   TableResolver
	validator TokenValidator
	owner     identity.Identity
	budget    energy.ReducerBudget
	keepalive time.Duration
	highWater int
	hardWater int
	logger    zerolog.Logger
}

// Config bundles Gateway's construction parameters.
type Config struct {
	Owner             identity.Identity
	Budget            energy.ReducerBudget
	KeepaliveInterval time.Duration
	HighWatermark     int
	HardWatermark     int
	Validator         TokenValidator
	Resolve           TableResolver
}

// New constructs a Gateway over ds/host/broker with the given Config.
func New(ds *datastore.Datastore, host *reducerhost.Host, broker *subscription.Broker, cfg Config) *Gateway {
	metrics.RegisterComponent("gateway", true, "ready")
	keepalive := cfg.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	budget := cfg.Budget
	if budget == 0 {
		budget = energy.DefaultReducerBudget
	}
	return &Gateway{
		host:      host,
		ds:        ds,
		broker:    broker,
		resolve:   cfg.Resolve,
		validator: cfg.Validator,
		owner:     cfg.Owner,
		budget:    budget,
		keepalive: keepalive,
		highWater: cfg.HighWatermark,
		hardWater: cfg.HardWatermark,
		logger:    log.WithComponent("gateway"),
	}
}

// Upgrade implements http.Handler's upgrade step: negotiate the
// subprotocol, bind an identity, accept the WebSocket, and run the
// connection until it closes.
func (g *Gateway) Upgrade(w http.ResponseWriter, r *http.Request) {
	proto, framing, ok := negotiateSubprotocol(r)
	if !ok {
		http.Error(w, "no supported subprotocol offered", http.StatusBadRequest)
		return
	}

	id, err := bindIdentity(r, g.validator)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid bearer token: %v", err), http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{proto}})
	if err != nil {
		g.logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	connID := uuid.New()
	conn := &connection{
		id:       connID,
		ws:       ws,
		framing:  framing,
		identity: id,
		gw:       g,
		logger:   log.WithConnection(connID.String()),
		queue:    newSendQueue(g.highWater, g.hardWater),
		queries:  make(map[uint32][]string),
	}
	conn.outbox = g.broker.Register(conn.id)
	metrics.GatewayConnectionsCurrent.Inc()
	defer metrics.GatewayConnectionsCurrent.Dec()
	conn.run(r.Context())
}
