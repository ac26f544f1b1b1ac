package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradeflow/config"
	"tradeflow/internal/feed"
	"tradeflow/internal/models"
	"tradeflow/internal/recorder"
	"tradeflow/internal/rest"
	"tradeflow/internal/session"
	"tradeflow/internal/state"
	"tradeflow/internal/transport"
	"tradeflow/logger"
)

// Client is the terminal-facing facade. It owns the broker connection, the
// subscription registry, the message router, the callback bus, the state
// store and the REST collaborator, and wires them into one pipeline:
//
//	conn -> router -> bus -> store (and recorder)
//
// Consumers read snapshots from Store() and register push callbacks on Bus().
type Client struct {
	cfg *config.Config
	log *logger.Entry

	conn     *transport.Conn
	registry *feed.Registry
	router   *feed.Router
	bus      *feed.Bus
	store    *state.Store
	rest     *rest.Client
	session  *session.Store
	recorder *recorder.Recorder

	mu       sync.Mutex
	user     models.User
	watching map[string]struct{}
}

// New assembles the pipeline. Nothing connects yet; call Login or Restore.
func New(cfg *config.Config) (*Client, error) {
	sess, err := session.NewStore(cfg.Session.Path)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		log:      logger.GetLogger().WithComponent("client"),
		conn:     transport.NewConn(cfg.Broker),
		bus:      feed.NewBus(),
		store:    state.NewStore(),
		rest:     rest.NewClient(cfg.Rest),
		session:  sess,
		watching: make(map[string]struct{}),
	}
	c.registry = feed.NewRegistry(c.conn)
	c.router = feed.NewRouter(c.registry, c.bus)
	c.store.Bind(c.bus)

	if cfg.Recorder.Enabled {
		rec, err := recorder.NewRecorder(cfg.Recorder)
		if err != nil {
			return nil, fmt.Errorf("recorder init: %w", err)
		}
		rec.Bind(c.bus)
		c.recorder = rec
	}

	c.rest.SetTokenSource(func() string {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.user.Token
	})

	c.conn.OnFrame(c.router.HandleFrame)
	c.conn.OnConnected(c.registry.Replay)
	c.conn.OnStateChange(func(s transport.State) {
		if s == transport.StateReconnecting || s == transport.StateDisconnected {
			c.registry.Invalidate()
		}
	})

	// The backend pushes the login result on its own topic after the broker
	// session is up; hydration waits for that confirmation.
	c.store.SetLoginHook(func(status models.StatusEvent) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := c.Hydrate(ctx); err != nil {
				c.log.WithError(err).Warn("post-login hydration failed")
			}
		}()
	})

	return c, nil
}

// Login authenticates against the trading and market backends, persists the
// session, connects the broker channel and hydrates the snapshot.
func (c *Client) Login(ctx context.Context) (models.User, error) {
	result, err := c.rest.TradingLogin(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("trading login: %w", err)
	}

	user := models.User{
		ID:            result.UserID,
		Name:          result.UserID,
		SessionID:     result.SessionID,
		Token:         result.Token,
		TradingStatus: true,
		LoginTime:     time.Now(),
	}

	if err := c.rest.MarketLogin(ctx); err != nil {
		c.log.WithError(err).Warn("market login failed; quotes unavailable until retry")
	} else {
		user.MarketStatus = true
	}

	c.mu.Lock()
	c.user = user
	c.mu.Unlock()

	if err := c.session.Save(user); err != nil {
		c.log.WithError(err).Warn("failed to persist session")
	}

	if err := c.start(ctx); err != nil {
		return user, err
	}

	c.log.WithField("user", user.ID).Info("login complete")
	return user, nil
}

// Restore resumes a persisted session. The second return value reports
// whether a session existed.
func (c *Client) Restore(ctx context.Context) (models.User, bool, error) {
	user, ok, err := c.session.Load()
	if err != nil || !ok {
		return models.User{}, false, err
	}

	c.mu.Lock()
	c.user = user
	c.mu.Unlock()

	if err := c.start(ctx); err != nil {
		return user, true, err
	}

	c.log.WithField("user", user.ID).Info("session restored")
	return user, true, nil
}

// start connects the broker channel and registers the static topic set. A
// failed first dial is not fatal: the transport keeps retrying and replay
// establishes the subscriptions once it succeeds.
func (c *Client) start(ctx context.Context) error {
	c.subscribeCoreTopics()

	if c.recorder != nil {
		if err := c.recorder.Start(ctx); err != nil {
			return err
		}
	}

	if err := c.conn.Connect(ctx); err != nil {
		c.log.WithError(err).Warn("broker connect pending; retrying in background")
	}
	return nil
}

// subscribeCoreTopics registers the fixed trading and status topics. Market
// data topics are added per instrument through WatchInstruments.
func (c *Client) subscribeCoreTopics() {
	c.registry.Subscribe(feed.TopicConnection, c.router.KindHandler(models.KindConnectionStatus))
	c.registry.Subscribe(feed.TopicLogin, c.router.KindHandler(models.KindLoginStatus))
	c.registry.Subscribe(feed.TopicOrders, c.router.KindHandler(models.KindOrderUpdate))
	c.registry.Subscribe(feed.TopicTrades, c.router.KindHandler(models.KindTradeUpdate))
	c.registry.Subscribe(feed.TopicMarketConnection, c.router.KindHandler(models.KindMarketConnectionStatus))
	c.registry.Subscribe(feed.TopicMarketData, c.router.KindHandler(models.KindMarketData))
}

// Hydrate runs the bulk fetches and installs them into the store, replacing
// any incremental state accumulated so far.
func (c *Client) Hydrate(ctx context.Context) error {
	orders, err := c.rest.Orders(ctx, "")
	if err != nil {
		return fmt.Errorf("hydrate orders: %w", err)
	}
	trades, err := c.rest.Trades(ctx, "")
	if err != nil {
		return fmt.Errorf("hydrate trades: %w", err)
	}
	positions, err := c.rest.Positions(ctx, "")
	if err != nil {
		return fmt.Errorf("hydrate positions: %w", err)
	}
	account, err := c.rest.Account(ctx)
	if err != nil {
		return fmt.Errorf("hydrate account: %w", err)
	}

	c.store.ReplaceOrders(orders)
	c.store.ReplaceTrades(trades)
	c.store.ReplacePositions(positions)
	c.store.ReplaceAccount(account)

	c.log.WithFields(logger.Fields{
		"orders":    len(orders),
		"trades":    len(trades),
		"positions": len(positions),
	}).Info("snapshot hydrated")
	return nil
}

// WatchInstruments subscribes the backend feed and the per-instrument topics
// for the given instruments. Already watched instruments are skipped.
func (c *Client) WatchInstruments(ctx context.Context, instruments ...string) error {
	fresh := make([]string, 0, len(instruments))
	c.mu.Lock()
	for _, inst := range instruments {
		if _, ok := c.watching[inst]; ok {
			continue
		}
		c.watching[inst] = struct{}{}
		fresh = append(fresh, inst)
	}
	c.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}

	if err := c.rest.MarketSubscribe(ctx, fresh); err != nil {
		c.mu.Lock()
		for _, inst := range fresh {
			delete(c.watching, inst)
		}
		c.mu.Unlock()
		return fmt.Errorf("market subscribe: %w", err)
	}

	handler := c.router.KindHandler(models.KindMarketData)
	for _, inst := range fresh {
		c.registry.Subscribe(feed.MarketDataTopic(inst), handler)
	}
	return nil
}

// UnwatchInstruments releases the backend feed and topic subscriptions.
func (c *Client) UnwatchInstruments(ctx context.Context, instruments ...string) error {
	c.mu.Lock()
	for _, inst := range instruments {
		delete(c.watching, inst)
	}
	c.mu.Unlock()

	for _, inst := range instruments {
		c.registry.Unsubscribe(feed.MarketDataTopic(inst))
	}

	if err := c.rest.MarketUnsubscribe(ctx, instruments); err != nil {
		return fmt.Errorf("market unsubscribe: %w", err)
	}
	return nil
}

// PlaceOrder submits an order and returns its backend reference. The pushed
// update arrives through the orders topic; the bulk list is refreshed as
// well so the snapshot is current even when the push is delayed.
func (c *Client) PlaceOrder(ctx context.Context, order rest.OrderRequest) (string, error) {
	ref, err := c.rest.PlaceOrder(ctx, order)
	if err != nil {
		return "", err
	}
	c.refreshOrders(ctx)
	return ref, nil
}

// CancelOrder requests cancellation of a working order.
func (c *Client) CancelOrder(ctx context.Context, orderRef, instrumentID string) error {
	if err := c.rest.CancelOrder(ctx, orderRef, instrumentID); err != nil {
		return err
	}
	c.refreshOrders(ctx)
	return nil
}

func (c *Client) refreshOrders(ctx context.Context) {
	orders, err := c.rest.Orders(ctx, "")
	if err != nil {
		c.log.WithError(err).Warn("order list refresh failed")
		return
	}
	c.store.ReplaceOrders(orders)
}

// Logout ends the backend session, clears the persisted record and tears
// the channel down.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.rest.TradingLogout(ctx); err != nil {
		c.log.WithError(err).Warn("trading logout failed; clearing session anyway")
	}
	if err := c.session.Clear(); err != nil {
		c.log.WithError(err).Warn("failed to clear persisted session")
	}

	c.mu.Lock()
	c.user = models.User{}
	c.watching = make(map[string]struct{})
	c.mu.Unlock()

	c.registry.Clear()
	c.Close()
	return nil
}

// Close stops the recorder and disconnects the broker channel. Idempotent.
func (c *Client) Close() {
	if c.recorder != nil {
		c.recorder.Stop()
	}
	c.conn.Disconnect()
}

// Store exposes the reconciled snapshot.
func (c *Client) Store() *state.Store { return c.store }

// Bus exposes the push callback bus.
func (c *Client) Bus() *feed.Bus { return c.bus }

// Rest exposes the REST collaborator for request/response operations that
// bypass the snapshot, such as instrument metadata lookups.
func (c *Client) Rest() *rest.Client { return c.rest }

// State reports the broker channel state.
func (c *Client) State() transport.State { return c.conn.State() }

// User returns the current session user.
func (c *Client) User() models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}
