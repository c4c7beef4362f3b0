// Package store provides the data models carried by realtime broadcasts.
package store

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntityID identifies a tradeable item (an EGI). It is the correlation key
// between broadcast payloads and the data-egi-id attribute in the page.
type EntityID uint64

// String returns the decimal form used in attributes and channel names.
func (id EntityID) String() string {
	return fmt.Sprintf("%d", uint64(id))
}

// ButtonState is the reservation button variant requested by a broadcast.
type ButtonState string

// Button states. The empty state means "unchanged".
const (
	ButtonUnchanged ButtonState = ""
	ButtonReserve   ButtonState = "reserve"
	ButtonOutbid    ButtonState = "outbid"
)

// Activator is the identity that placed the current winning reservation.
type Activator struct {
	Name string

	// AvatarURL may be empty, in which case an initials badge is rendered
	AvatarURL string

	// IsPrivilegedRole marks commissioners
	IsPrivilegedRole bool

	WalletAddress string
}

// StructureChanges describes a reservation lifecycle transition.
// It is not a snapshot: nil or zero fields mean "unchanged".
type StructureChanges struct {
	IsFirstReservation bool

	// ReservationCount is authoritative when set
	ReservationCount *int

	Activator   *Activator
	ButtonState ButtonState
}

// PriceUpdate is a single price broadcast for one entity.
type PriceUpdate struct {
	EntityID  EntityID
	Amount    decimal.Decimal
	Currency  string
	Structure *StructureChanges
}

// HasStructure reports whether the update carries structural changes.
func (p PriceUpdate) HasStructure() bool {
	return p.Structure != nil
}

// StatsField names one of the six tracked statistics.
type StatsField int

// Tracked statistics fields, in display order.
const (
	FieldVolume StatsField = iota
	FieldEppCount
	FieldCollections
	FieldSellableCollections
	FieldTotalItems
	FieldSellableItems
)

// AllStatsFields lists every tracked field.
var AllStatsFields = []StatsField{
	FieldVolume,
	FieldEppCount,
	FieldCollections,
	FieldSellableCollections,
	FieldTotalItems,
	FieldSellableItems,
}

// IDPrefix returns the element id prefix that marks the field in a stats container.
func (f StatsField) IDPrefix() string {
	switch f {
	case FieldVolume:
		return "statVolume_"
	case FieldEppCount:
		return "statEpp_"
	case FieldCollections:
		return "statCollections_"
	case FieldSellableCollections:
		return "statSellCollections_"
	case FieldTotalItems:
		return "statTotalEgis_"
	case FieldSellableItems:
		return "statSellEgis_"
	}
	return ""
}

// ClassName returns the legacy class that marks the field inside a stats
// container without the id prefix.
func (f StatsField) ClassName() string {
	switch f {
	case FieldVolume:
		return "stat-volume"
	case FieldEppCount:
		return "stat-epp"
	case FieldCollections:
		return "stat-collections"
	case FieldSellableCollections:
		return "stat-sell-collections"
	case FieldTotalItems:
		return "stat-total-egis"
	case FieldSellableItems:
		return "stat-sell-egis"
	}
	return ""
}

// GenericSelector returns the selector of standalone site-wide elements
// showing the field, or "" when the field has none.
func (f StatsField) GenericSelector() string {
	switch f {
	case FieldVolume:
		return `.global-volume-stat, [data-stat="volume"]`
	case FieldEppCount:
		return `.global-epp-stat, [data-stat="epp"]`
	case FieldTotalItems:
		return `.global-egis-stat, [data-stat="total_egis"]`
	case FieldSellableItems:
		return `.global-sell-egis-stat, [data-stat="sell_egis"]`
	}
	return ""
}

// Selector returns the selector matching the field inside a stats container.
func (f StatsField) Selector() string {
	sel := `[id^="` + f.IDPrefix() + `"], .` + f.ClassName()
	if generic := f.GenericSelector(); generic != "" {
		sel += ", " + generic
	}
	return sel
}

// IsCurrency reports whether the field holds a monetary value.
// Monetary fields always display the server-formatted string.
func (f StatsField) IsCurrency() bool {
	return f == FieldVolume || f == FieldEppCount
}

func (f StatsField) String() string {
	switch f {
	case FieldVolume:
		return "volume"
	case FieldEppCount:
		return "epp"
	case FieldCollections:
		return "collections"
	case FieldSellableCollections:
		return "sell_collections"
	case FieldTotalItems:
		return "total_egis"
	case FieldSellableItems:
		return "sell_egis"
	}
	return "unknown"
}

// StatsValues holds the raw magnitudes of a snapshot.
type StatsValues struct {
	Volume                   float64
	EppCount                 float64
	CollectionsCount         float64
	SellableCollectionsCount float64
	TotalItems               float64
	SellableItems            float64
}

// Get returns the raw value for a field.
func (v StatsValues) Get(f StatsField) float64 {
	switch f {
	case FieldVolume:
		return v.Volume
	case FieldEppCount:
		return v.EppCount
	case FieldCollections:
		return v.CollectionsCount
	case FieldSellableCollections:
		return v.SellableCollectionsCount
	case FieldTotalItems:
		return v.TotalItems
	case FieldSellableItems:
		return v.SellableItems
	}
	return 0
}

// StatsText holds the server-formatted strings of a snapshot.
type StatsText struct {
	Volume                   string
	EppCount                 string
	CollectionsCount         string
	SellableCollectionsCount string
	TotalItems               string
	SellableItems            string
}

// Get returns the formatted value for a field.
func (t StatsText) Get(f StatsField) string {
	switch f {
	case FieldVolume:
		return t.Volume
	case FieldEppCount:
		return t.EppCount
	case FieldCollections:
		return t.CollectionsCount
	case FieldSellableCollections:
		return t.SellableCollectionsCount
	case FieldTotalItems:
		return t.TotalItems
	case FieldSellableItems:
		return t.SellableItems
	}
	return ""
}

// Has reports whether the snapshot carries a formatted value for a field.
// An absent or null field decodes to the empty string.
func (t StatsText) Has(f StatsField) bool {
	return t.Get(f) != ""
}

// Count returns how many fields carry a formatted value.
func (t StatsText) Count() int {
	n := 0
	for _, f := range AllStatsFields {
		if t.Has(f) {
			n++
		}
	}
	return n
}

// StatsSnapshot is a point-in-time aggregate. Fields present in a broadcast
// replace the displayed values; absent fields leave them untouched.
type StatsSnapshot struct {
	Raw       StatsValues
	Formatted StatsText
}

// StatsUpdate is a decoded stats broadcast.
type StatsUpdate struct {
	Stats     StatsSnapshot
	UpdatedAt time.Time

	// Trigger names the server-side cause (e.g. reservation_created), may be empty
	Trigger string
}

// StatsScope tags a stats container. The zero value is the global scope.
type StatsScope struct {
	CollectionID uint64
}

// GlobalScope is the site-wide statistics scope.
var GlobalScope = StatsScope{}

// CollectionScope returns the scope of a single collection.
func CollectionScope(id uint64) StatsScope {
	return StatsScope{CollectionID: id}
}

// IsGlobal reports whether s is the global scope.
func (s StatsScope) IsGlobal() bool {
	return s.CollectionID == 0
}

func (s StatsScope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return fmt.Sprintf("collection.%d", s.CollectionID)
}

// ChannelName returns the broadcast channel that carries this scope's stats.
func (s StatsScope) ChannelName() string {
	return s.String() + ".stats"
}

// Channel names and event names used by the broadcast server.
const (
	PriceChannelPrefix = "price."
	PriceEvent         = ".price.updated"
	StatsEvent         = ".stats.updated"
)

// PriceChannelName returns the channel carrying price updates for an entity.
func PriceChannelName(id EntityID) string {
	return PriceChannelPrefix + id.String()
}

// Event is a record of a received broadcast, kept for the monitor feed.
type Event struct {
	Channel    string
	Name       string
	ReceivedAt time.Time
	Summary    string
}

// Notice is a transient user-facing message raised by a reconciler.
type Notice struct {
	ID        string
	Message   string
	Kind      string
	CreatedAt time.Time
}

// Notice kinds.
const (
	NoticeReload = "reload"
	NoticeStats  = "stats"
)
