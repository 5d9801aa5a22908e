package events

import "time"

// Event enumerates the topics the trading loop publishes.
type Event string

const (
	EventTradeOpened      Event = "trade.opened"
	EventTradeClosed      Event = "trade.closed"
	EventTradeSkipped     Event = "trade.skipped"
	EventExitSignal       Event = "position.exit"
	EventSignal           Event = "strategy.signal"
	EventConfidence       Event = "strategy.confidence"
	EventParamsAdjusted   Event = "params.adjusted"
	EventCycleStarted     Event = "cycle.started"
	EventCycleCompleted   Event = "cycle.completed"
	EventCycleFailed      Event = "cycle.failed"
	EventBotState         Event = "bot.state"
	EventPortfolioAdopted Event = "portfolio.adopted"
)

// All subscribes to every topic.
const All Event = "*"

// Envelope is what subscribers receive.
type Envelope struct {
	ID      string    `json:"id"`
	Topic   Event     `json:"topic"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}
