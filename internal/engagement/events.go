package engagement

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType is the tag of the closed engagement event union.
type EventType string

const (
	EventExchangeSent     EventType = "EXCHANGE_SENT"
	EventJourneyCompleted EventType = "JOURNEY_COMPLETED"
	EventJourneyStarted   EventType = "JOURNEY_STARTED"
	EventTopicExplored    EventType = "TOPIC_EXPLORED"
	EventCardVisited      EventType = "CARD_VISITED"
	EventTimeMilestone    EventType = "TIME_MILESTONE"
	EventLensSelected     EventType = "LENS_SELECTED"
	EventRevealShown      EventType = "REVEAL_SHOWN"
	EventRevealDismissed  EventType = "REVEAL_DISMISSED"
	EventSessionStarted   EventType = "SESSION_STARTED"
	EventSessionResumed   EventType = "SESSION_RESUMED"
	EventSproutCaptured   EventType = "SPROUT_CAPTURED"
	EventMomentShown      EventType = "MOMENT_SHOWN"
	EventMomentActioned   EventType = "MOMENT_ACTIONED"
	EventMomentDismissed  EventType = "MOMENT_DISMISSED"
	EventHubVisited       EventType = "HUB_VISITED"
	EventPivotClicked     EventType = "PIVOT_CLICKED"
)

// Payload is implemented by every typed event payload.
type Payload interface {
	EventType() EventType
	Validate() error
}

// ErrInvalidPayload marks a payload that failed validation.
var ErrInvalidPayload = errors.New("invalid event payload")

func invalid(t EventType, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidPayload, t, fmt.Sprintf(format, args...))
}

type ExchangeSent struct {
	Query          string `json:"query"`
	ResponseLength int    `json:"responseLength"`
	CardID         string `json:"cardId,omitempty"`
}

func (ExchangeSent) EventType() EventType { return EventExchangeSent }
func (p ExchangeSent) Validate() error {
	if p.ResponseLength < 0 {
		return invalid(EventExchangeSent, "negative responseLength %d", p.ResponseLength)
	}
	return nil
}

type JourneyCompleted struct {
	LensID          string  `json:"lensId"`
	DurationMinutes float64 `json:"durationMinutes"`
	CardsVisited    int     `json:"cardsVisited"`
}

func (JourneyCompleted) EventType() EventType { return EventJourneyCompleted }
func (p JourneyCompleted) Validate() error {
	if p.DurationMinutes < 0 || p.CardsVisited < 0 {
		return invalid(EventJourneyCompleted, "negative duration or card count")
	}
	return nil
}

type JourneyStarted struct {
	LensID       string `json:"lensId"`
	ThreadLength int    `json:"threadLength"`
}

func (JourneyStarted) EventType() EventType { return EventJourneyStarted }
func (p JourneyStarted) Validate() error {
	if p.LensID == "" {
		return invalid(EventJourneyStarted, "lensId required")
	}
	return nil
}

type TopicExplored struct {
	TopicID    string `json:"topicId"`
	TopicLabel string `json:"topicLabel"`
}

func (TopicExplored) EventType() EventType { return EventTopicExplored }
func (p TopicExplored) Validate() error {
	if p.TopicID == "" {
		return invalid(EventTopicExplored, "topicId required")
	}
	return nil
}

type CardVisited struct {
	CardID    string `json:"cardId"`
	CardLabel string `json:"cardLabel"`
	FromCard  string `json:"fromCard,omitempty"`
}

func (CardVisited) EventType() EventType { return EventCardVisited }
func (p CardVisited) Validate() error {
	if p.CardID == "" {
		return invalid(EventCardVisited, "cardId required")
	}
	return nil
}

type TimeMilestone struct {
	Minutes int `json:"minutes"`
}

func (TimeMilestone) EventType() EventType { return EventTimeMilestone }
func (p TimeMilestone) Validate() error {
	if p.Minutes <= 0 {
		return invalid(EventTimeMilestone, "minutes must be positive")
	}
	return nil
}

type LensSelected struct {
	LensID      string `json:"lensId"`
	IsCustom    bool   `json:"isCustom"`
	ArchetypeID string `json:"archetypeId,omitempty"`
}

func (LensSelected) EventType() EventType { return EventLensSelected }
func (p LensSelected) Validate() error {
	if p.LensID == "" {
		return invalid(EventLensSelected, "lensId required")
	}
	return nil
}

type RevealShown struct {
	RevealType RevealType `json:"revealType"`
}

func (RevealShown) EventType() EventType { return EventRevealShown }
func (p RevealShown) Validate() error {
	if !p.RevealType.Valid() {
		return invalid(EventRevealShown, "unknown reveal %q", p.RevealType)
	}
	return nil
}

// RevealAction is how the visitor responded to a reveal.
type RevealAction string

const (
	ActionAccepted  RevealAction = "accepted"
	ActionDeclined  RevealAction = "declined"
	ActionDismissed RevealAction = "dismissed"
)

type RevealDismissed struct {
	RevealType RevealType   `json:"revealType"`
	Action     RevealAction `json:"action"`
}

func (RevealDismissed) EventType() EventType { return EventRevealDismissed }
func (p RevealDismissed) Validate() error {
	if !p.RevealType.Valid() {
		return invalid(EventRevealDismissed, "unknown reveal %q", p.RevealType)
	}
	switch p.Action {
	case ActionAccepted, ActionDeclined, ActionDismissed:
		return nil
	}
	return invalid(EventRevealDismissed, "unknown action %q", p.Action)
}

type SessionStarted struct {
	IsReturningUser bool `json:"isReturningUser"`
}

func (SessionStarted) EventType() EventType { return EventSessionStarted }
func (SessionStarted) Validate() error      { return nil }

type SessionResumed struct {
	PreviousSessionID        string  `json:"previousSessionId"`
	MinutesSinceLastActivity float64 `json:"minutesSinceLastActivity"`
}

func (SessionResumed) EventType() EventType { return EventSessionResumed }
func (SessionResumed) Validate() error      { return nil }

type SproutCaptured struct {
	SproutID string   `json:"sproutId"`
	Tags     []string `json:"tags,omitempty"`
}

func (SproutCaptured) EventType() EventType { return EventSproutCaptured }
func (p SproutCaptured) Validate() error {
	if p.SproutID == "" {
		return invalid(EventSproutCaptured, "sproutId required")
	}
	return nil
}

type MomentShown struct {
	MomentID string `json:"momentId"`
	Surface  string `json:"surface"`
}

func (MomentShown) EventType() EventType { return EventMomentShown }
func (p MomentShown) Validate() error {
	if p.MomentID == "" {
		return invalid(EventMomentShown, "momentId required")
	}
	return nil
}

type MomentActioned struct {
	MomentID   string `json:"momentId"`
	ActionID   string `json:"actionId"`
	ActionType string `json:"actionType"`
}

func (MomentActioned) EventType() EventType { return EventMomentActioned }
func (p MomentActioned) Validate() error {
	if p.MomentID == "" {
		return invalid(EventMomentActioned, "momentId required")
	}
	return nil
}

type MomentDismissed struct {
	MomentID string `json:"momentId"`
}

func (MomentDismissed) EventType() EventType { return EventMomentDismissed }
func (p MomentDismissed) Validate() error {
	if p.MomentID == "" {
		return invalid(EventMomentDismissed, "momentId required")
	}
	return nil
}

type HubVisited struct {
	HubID string `json:"hubId"`
}

func (HubVisited) EventType() EventType { return EventHubVisited }
func (p HubVisited) Validate() error {
	if p.HubID == "" {
		return invalid(EventHubVisited, "hubId required")
	}
	return nil
}

type PivotClicked struct{}

func (PivotClicked) EventType() EventType { return EventPivotClicked }
func (PivotClicked) Validate() error      { return nil }

// NewPayload returns an empty payload for t, or an error for unknown types.
func NewPayload(t EventType) (Payload, error) {
	switch t {
	case EventExchangeSent:
		return &ExchangeSent{}, nil
	case EventJourneyCompleted:
		return &JourneyCompleted{}, nil
	case EventJourneyStarted:
		return &JourneyStarted{}, nil
	case EventTopicExplored:
		return &TopicExplored{}, nil
	case EventCardVisited:
		return &CardVisited{}, nil
	case EventTimeMilestone:
		return &TimeMilestone{}, nil
	case EventLensSelected:
		return &LensSelected{}, nil
	case EventRevealShown:
		return &RevealShown{}, nil
	case EventRevealDismissed:
		return &RevealDismissed{}, nil
	case EventSessionStarted:
		return &SessionStarted{}, nil
	case EventSessionResumed:
		return &SessionResumed{}, nil
	case EventSproutCaptured:
		return &SproutCaptured{}, nil
	case EventMomentShown:
		return &MomentShown{}, nil
	case EventMomentActioned:
		return &MomentActioned{}, nil
	case EventMomentDismissed:
		return &MomentDismissed{}, nil
	case EventHubVisited:
		return &HubVisited{}, nil
	case EventPivotClicked:
		return &PivotClicked{}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", t)
}

// DecodePayload decodes raw JSON into the typed payload for t. The returned
// payload is a value, not a pointer.
func DecodePayload(t EventType, raw []byte) (Payload, error) {
	p, err := NewPayload(t)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
	}
	return Deref(p), nil
}

// Deref returns the value form of a pointer payload, which is the form the
// reducer matches on. A nil pointer yields nil; values pass through.
func Deref(p Payload) Payload {
	switch v := p.(type) {
	case *ExchangeSent:
		return val(v)
	case *JourneyCompleted:
		return val(v)
	case *JourneyStarted:
		return val(v)
	case *TopicExplored:
		return val(v)
	case *CardVisited:
		return val(v)
	case *TimeMilestone:
		return val(v)
	case *LensSelected:
		return val(v)
	case *RevealShown:
		return val(v)
	case *RevealDismissed:
		return val(v)
	case *SessionStarted:
		return val(v)
	case *SessionResumed:
		return val(v)
	case *SproutCaptured:
		return val(v)
	case *MomentShown:
		return val(v)
	case *MomentActioned:
		return val(v)
	case *MomentDismissed:
		return val(v)
	case *HubVisited:
		return val(v)
	case *PivotClicked:
		return val(v)
	}
	return p
}

func val[T Payload](v *T) Payload {
	if v == nil {
		return nil
	}
	return *v
}

// Event is one entry of the engagement stream.
type Event struct {
	Type      EventType
	Payload   Payload
	Timestamp time.Time
	SessionID string
}

// NewEvent stamps p with its type, time and session. Pointer payloads are
// stored by value.
func NewEvent(p Payload, sessionID string, at time.Time) Event {
	p = Deref(p)
	return Event{Type: p.EventType(), Payload: p, Timestamp: at, SessionID: sessionID}
}

type eventJSON struct {
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"sessionId"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventJSON{Type: e.Type, Payload: raw, Timestamp: e.Timestamp, SessionID: e.SessionID})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p, err := DecodePayload(raw.Type, raw.Payload)
	if err != nil {
		return err
	}
	*e = Event{Type: raw.Type, Payload: p, Timestamp: raw.Timestamp, SessionID: raw.SessionID}
	return nil
}
