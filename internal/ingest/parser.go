package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/florenceegi/livepage/internal/format"
	"github.com/florenceegi/livepage/internal/store"
	"github.com/shopspring/decimal"
)

// ErrMalformedPayload is returned when a payload lacks its minimal shape.
var ErrMalformedPayload = errors.New("malformed payload")

// Frame is one Pusher protocol message.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Pusher protocol events.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventError                 = "pusher:error"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventSubscribe             = "pusher:subscribe"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
)

// ParseFrame decodes a raw WebSocket message. The server encodes data as a
// JSON string; it is unwrapped so handlers always receive a JSON document.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("%w: frame without event", ErrMalformedPayload)
	}

	if len(f.Data) > 0 && f.Data[0] == '"' {
		var inner string
		if err := json.Unmarshal(f.Data, &inner); err != nil {
			return Frame{}, fmt.Errorf("failed to unwrap frame data: %w", err)
		}
		f.Data = json.RawMessage(inner)
	}

	return f, nil
}

// ConnectionEstablished is the data of pusher:connection_established.
type ConnectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

// ProtocolError is the data of pusher:error.
type ProtocolError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type activatorMessage struct {
	Name           string  `json:"name"`
	Avatar         *string `json:"avatar"`
	IsCommissioner bool    `json:"is_commissioner"`
	WalletAddress  *string `json:"wallet_address"`
	Wallet         *string `json:"wallet"`
}

type structureMessage struct {
	IsFirstReservation bool              `json:"is_first_reservation"`
	ReservationCount   *int              `json:"reservation_count"`
	Activator          *activatorMessage `json:"activator"`
	ButtonState        string            `json:"button_state"`
}

type priceMessage struct {
	Amount           json.RawMessage   `json:"amount"`
	Currency         string            `json:"currency"`
	EgiID            *uint64           `json:"egi_id"`
	StructureChanges *structureMessage `json:"structure_changes"`
}

// DecodePriceUpdate decodes a price.updated payload for the entity whose
// channel delivered it. amount and currency are required.
func DecodePriceUpdate(id store.EntityID, data []byte) (store.PriceUpdate, error) {
	var msg priceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return store.PriceUpdate{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if msg.EgiID != nil && *msg.EgiID != 0 && store.EntityID(*msg.EgiID) != id {
		return store.PriceUpdate{}, fmt.Errorf("%w: egi_id %d on channel of %d", ErrMalformedPayload, *msg.EgiID, id)
	}

	amount, err := parseAmount(msg.Amount)
	if err != nil {
		return store.PriceUpdate{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(msg.Currency))
	if !format.IsValidCurrency(currency) {
		return store.PriceUpdate{}, fmt.Errorf("%w: invalid currency %q", ErrMalformedPayload, msg.Currency)
	}

	update := store.PriceUpdate{
		EntityID: id,
		Amount:   amount,
		Currency: currency,
	}
	if msg.StructureChanges != nil {
		update.Structure = convertStructure(msg.StructureChanges)
	}
	return update, nil
}

// parseAmount accepts the amount as a decimal string or a JSON number.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Decimal{}, fmt.Errorf("%w: amount missing", ErrMalformedPayload)
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: amount: %v", ErrMalformedPayload, err)
		}
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: amount %q: %v", ErrMalformedPayload, s, err)
	}
	if amount.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: negative amount %s", ErrMalformedPayload, s)
	}
	return amount, nil
}

func convertStructure(msg *structureMessage) *store.StructureChanges {
	changes := &store.StructureChanges{
		IsFirstReservation: msg.IsFirstReservation,
		ButtonState:        parseButtonState(msg.ButtonState),
	}

	if msg.ReservationCount != nil && *msg.ReservationCount >= 0 {
		count := *msg.ReservationCount
		changes.ReservationCount = &count
	}

	if a := msg.Activator; a != nil {
		wallet := coalesce(deref(a.WalletAddress), deref(a.Wallet))
		name := strings.TrimSpace(a.Name)
		if name == "" && wallet != "" {
			name = truncate(wallet, 12)
		}
		if name != "" {
			changes.Activator = &store.Activator{
				Name:             name,
				AvatarURL:        deref(a.Avatar),
				IsPrivilegedRole: a.IsCommissioner,
				WalletAddress:    wallet,
			}
		}
	}

	return changes
}

func parseButtonState(s string) store.ButtonState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rilancia", "outbid":
		return store.ButtonOutbid
	case "prenota", "reserve":
		return store.ButtonReserve
	}
	return store.ButtonUnchanged
}

type statsFields struct {
	Volume          json.RawMessage `json:"volume"`
	Epp             json.RawMessage `json:"epp"`
	Collections     json.RawMessage `json:"collections"`
	SellCollections json.RawMessage `json:"sell_collections"`
	TotalEgis       json.RawMessage `json:"total_egis"`
	SellEgis        json.RawMessage `json:"sell_egis"`
}

type statsMessage struct {
	Stats *struct {
		Data      *statsFields `json:"data"`
		Formatted *statsFields `json:"formatted"`
	} `json:"stats"`
	UpdatedAt string `json:"updated_at"`
	Trigger   string `json:"trigger"`
}

// DecodeStatsUpdate decodes a stats.updated payload. stats.data and
// stats.formatted are required and at least one formatted field must be
// present. Fields left out stay empty in the snapshot.
func DecodeStatsUpdate(data []byte) (store.StatsUpdate, error) {
	var msg statsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return store.StatsUpdate{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if msg.Stats == nil || msg.Stats.Data == nil || msg.Stats.Formatted == nil {
		return store.StatsUpdate{}, fmt.Errorf("%w: stats.data and stats.formatted are required", ErrMalformedPayload)
	}

	d, f := msg.Stats.Data, msg.Stats.Formatted
	snapshot := store.StatsSnapshot{
		Raw: store.StatsValues{
			Volume:                   parseNumber(d.Volume),
			EppCount:                 parseNumber(d.Epp),
			CollectionsCount:         parseNumber(d.Collections),
			SellableCollectionsCount: parseNumber(d.SellCollections),
			TotalItems:               parseNumber(d.TotalEgis),
			SellableItems:            parseNumber(d.SellEgis),
		},
		Formatted: store.StatsText{
			Volume:                   parseText(f.Volume),
			EppCount:                 parseText(f.Epp),
			CollectionsCount:         parseText(f.Collections),
			SellableCollectionsCount: parseText(f.SellCollections),
			TotalItems:               parseText(f.TotalEgis),
			SellableItems:            parseText(f.SellEgis),
		},
	}

	if snapshot.Formatted.Count() == 0 {
		return store.StatsUpdate{}, fmt.Errorf("%w: stats.formatted carries no known field", ErrMalformedPayload)
	}

	update := store.StatsUpdate{
		Stats:   snapshot,
		Trigger: msg.Trigger,
	}
	if msg.UpdatedAt != "" {
		update.UpdatedAt = parseTimestamp(msg.UpdatedAt)
	}
	return update, nil
}

// parseNumber reads a JSON number or numeric string, 0 when absent.
func parseNumber(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	s := string(raw)
	if raw[0] == '"' {
		_ = json.Unmarshal(raw, &s)
	}
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

// parseText reads a JSON string, or the literal text of any other value.
func parseText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	return string(raw)
}

// parseTimestamp tries multiple timestamp formats.
func parseTimestamp(values ...string) time.Time {
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05.000000Z",
		"2006-01-02 15:04:05",
	}

	for _, v := range values {
		if v == "" {
			continue
		}

		// Try parsing as Unix timestamp (seconds or milliseconds)
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			if ts > 1e12 {
				return time.UnixMilli(ts)
			}
			return time.Unix(ts, 0)
		}

		for _, format := range formats {
			if t, err := time.Parse(format, v); err == nil {
				return t
			}
		}
	}

	return time.Time{}
}

// coalesce returns the first non-empty string.
func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
