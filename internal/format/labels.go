package format

import (
	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message/catalog"
)

// Label keys. The English text doubles as the lookup key.
const (
	LabelReserve     = "Reserve"
	LabelOutbid      = "Outbid"
	LabelActivator   = "Activator"
	LabelReloading   = "This item changed, reloading the page"
	LabelStatsUpdate = "Statistics updated"

	labelReservations = "%d reservations"
)

// Stats triggers with a dedicated notice text.
const (
	TriggerReservationCreated   = "reservation_created"
	TriggerReservationCancelled = "reservation_cancelled"
	TriggerPaymentDistributed   = "payment_distributed"
)

var statsTriggerLabels = map[string]string{
	TriggerReservationCreated:   "Statistics updated: new reservation",
	TriggerReservationCancelled: "Statistics updated: reservation cancelled",
	TriggerPaymentDistributed:   "Statistics updated: payment distributed",
}

var labels = buildLabels()

func buildLabels() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))

	en := map[string]string{
		LabelReserve:   "Reserve",
		LabelOutbid:    "Outbid",
		LabelActivator: "Activator",
		LabelReloading: "This item changed, reloading the page",
	}
	it := map[string]string{
		LabelReserve:     "Prenota",
		LabelOutbid:      "Rilancia",
		LabelActivator:   "Attivatore",
		LabelReloading:   "Questo EGI è cambiato, ricarico la pagina",
		LabelStatsUpdate: "Statistiche aggiornate",
		statsTriggerLabels[TriggerReservationCreated]:   "Statistiche aggiornate: nuova prenotazione",
		statsTriggerLabels[TriggerReservationCancelled]: "Statistiche aggiornate: prenotazione cancellata",
		statsTriggerLabels[TriggerPaymentDistributed]:   "Statistiche aggiornate: pagamento distribuito",
	}
	for key, text := range en {
		_ = b.SetString(language.English, key, text)
	}
	for key, text := range it {
		_ = b.SetString(language.Italian, key, text)
	}

	_ = b.Set(language.English, labelReservations,
		plural.Selectf(1, "%d", "one", "%d reservation", "other", "%d reservations"))
	_ = b.Set(language.Italian, labelReservations,
		plural.Selectf(1, "%d", "one", "%d Prenotazione", "other", "%d Prenotazioni"))

	return b
}

// Label returns the localized text for a label key.
func (f *Formatter) Label(key string) string {
	return f.printer.Sprintf(key)
}

// Reservations renders a pluralized reservation counter, e.g. "3 Prenotazioni".
func (f *Formatter) Reservations(n int) string {
	return f.printer.Sprintf(labelReservations, n)
}

// StatsNotice returns the notice text for a stats update trigger.
func (f *Formatter) StatsNotice(trigger string) string {
	if key, ok := statsTriggerLabels[trigger]; ok {
		return f.Label(key)
	}
	return f.Label(LabelStatsUpdate)
}
