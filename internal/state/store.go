package state

import (
	"sync"
	"time"

	"tradeflow/internal/feed"
	"tradeflow/internal/models"
	"tradeflow/logger"
)

// Store is the canonical in-memory snapshot reconciled from the event
// stream: quotes keyed by instrument, orders keyed by order id, the trade
// tape, and the bulk-fetched positions and account. The store owns all of
// it exclusively; mutation happens only through the typed operations below.
type Store struct {
	mu              sync.RWMutex
	quotes          map[string]models.Quote
	orders          []models.Order
	trades          []models.Trade
	positions       []models.Position
	account         *models.Account
	connected       bool
	marketConnected bool

	loginHook func(models.StatusEvent)
	log       *logger.Entry
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{
		quotes: make(map[string]models.Quote),
		log:    logger.GetLogger().WithComponent("state"),
		now:    time.Now,
	}
}

// Bind registers the store's consumers on the bus. A successful login event
// additionally fires the login hook so the owner can run the one-time bulk
// hydration; the store itself never calls back into transport or registry.
func (s *Store) Bind(bus *feed.Bus) {
	bus.On(models.KindMarketData, func(ev models.Event) {
		if tick, ok := ev.Payload.(models.MarketTick); ok {
			s.ApplyTick(tick)
		}
	})
	bus.On(models.KindOrderUpdate, func(ev models.Event) {
		if upd, ok := ev.Payload.(models.OrderUpdate); ok {
			s.ApplyOrderUpdate(upd)
		}
	})
	bus.On(models.KindTradeUpdate, func(ev models.Event) {
		if fill, ok := ev.Payload.(models.TradeFill); ok {
			s.ApplyTrade(fill)
		}
	})
	bus.On(models.KindConnectionStatus, func(ev models.Event) {
		if status, ok := ev.Payload.(models.StatusEvent); ok {
			s.SetConnected(status.Connected)
		}
	})
	bus.On(models.KindMarketConnectionStatus, func(ev models.Event) {
		if status, ok := ev.Payload.(models.StatusEvent); ok {
			s.SetMarketConnected(status.Connected)
		}
	})
	bus.On(models.KindLoginStatus, func(ev models.Event) {
		status, ok := ev.Payload.(models.StatusEvent)
		if !ok {
			return
		}
		s.mu.RLock()
		hook := s.loginHook
		s.mu.RUnlock()
		if status.Success && hook != nil {
			hook(status)
		}
	})
}

// SetLoginHook installs the callback fired on every successful login event.
func (s *Store) SetLoginHook(hook func(models.StatusEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginHook = hook
}

// ApplyTick upserts the quote for the tick's instrument. The stored record
// is replaced whole, derived fields recomputed from the tick, so replaying
// the same tick is idempotent and readers never see partially merged fields.
func (s *Store) ApplyTick(tick models.MarketTick) models.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	quote := models.QuoteFromTick(tick, s.now())
	s.quotes[quote.Symbol] = quote
	return quote
}

// ApplyOrderUpdate upserts the order keyed by its id: an existing entry is
// replaced in place, preserving its position in the display order, a new id
// is inserted at the front.
func (s *Store) ApplyOrderUpdate(upd models.OrderUpdate) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := models.OrderFromUpdate(upd)
	for i := range s.orders {
		if s.orders[i].ID == order.ID {
			s.orders[i] = order
			return order
		}
	}
	s.orders = append([]models.Order{order}, s.orders...)
	return order
}

// ApplyTrade prepends the fill to the trade tape. Entries are never merged
// or deduplicated: at-least-once delivery is accepted at this layer.
func (s *Store) ApplyTrade(fill models.TradeFill) models.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade := models.TradeFromFill(fill)
	s.trades = append([]models.Trade{trade}, s.trades...)
	return trade
}

// ReplaceOrders installs the bulk-fetched order list, replacing the whole
// incremental state. Used for login hydration and periodic refresh.
func (s *Store) ReplaceOrders(orders []models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append([]models.Order(nil), orders...)
}

// ReplaceTrades installs the bulk-fetched trade list. Subsequent pushed
// fills prepend on top of it.
func (s *Store) ReplaceTrades(trades []models.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append([]models.Trade(nil), trades...)
}

// ReplacePositions installs the bulk-fetched position list.
func (s *Store) ReplacePositions(positions []models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append([]models.Position(nil), positions...)
}

// ReplaceAccount installs the bulk-fetched funds record.
func (s *Store) ReplaceAccount(account models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = &account
}

func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

func (s *Store) SetMarketConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marketConnected = connected
}

// Quote returns the stored quote for an instrument.
func (s *Store) Quote(symbol string) (models.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quote, ok := s.quotes[symbol]
	return quote, ok
}

// Quotes returns a copy of all stored quotes.
func (s *Store) Quotes() []models.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quotes := make([]models.Quote, 0, len(s.quotes))
	for _, quote := range s.quotes {
		quotes = append(quotes, quote)
	}
	return quotes
}

// Orders returns a copy of the order list in display order.
func (s *Store) Orders() []models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Order(nil), s.orders...)
}

// Trades returns a copy of the trade tape, most recent first.
func (s *Store) Trades() []models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Trade(nil), s.trades...)
}

// Positions returns a copy of the position list.
func (s *Store) Positions() []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Position(nil), s.positions...)
}

// Account returns the funds record when one has been hydrated.
func (s *Store) Account() (models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.account == nil {
		return models.Account{}, false
	}
	return *s.account, true
}

func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Store) MarketConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marketConnected
}
