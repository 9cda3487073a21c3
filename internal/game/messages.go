package game

import (
	"fmt"

	"tycoon/internal/domain"
	"tycoon/internal/emergency"
)

func thresholdMessage(e domain.CatalogEntry, t Threshold, condition float64) domain.Message {
	if t == ThresholdCritical {
		return domain.Message{
			Kind:   domain.MsgMaintenanceCritical,
			TypeID: e.TypeID,
			Title:  fmt.Sprintf("Critical maintenance: %s", e.DisplayName),
			Body:   fmt.Sprintf("Your %s is at %.1f%% maintenance and has stopped producing income. Repair it before it shuts down.", e.DisplayName, condition),
			Fields: []domain.Field{{Name: "Condition", Value: fmt.Sprintf("%.1f%%", condition)}},
		}
	}
	return domain.Message{
		Kind:   domain.MsgMaintenanceWarning,
		TypeID: e.TypeID,
		Title:  fmt.Sprintf("Maintenance warning: %s", e.DisplayName),
		Body:   fmt.Sprintf("Your %s is at %.1f%% maintenance. Repairs are now available.", e.DisplayName, condition),
		Fields: []domain.Field{{Name: "Condition", Value: fmt.Sprintf("%.1f%%", condition)}},
	}
}

func minorMessage(e domain.CatalogEntry, ev domain.Event, d emergency.Decision) domain.Message {
	fields := make([]domain.Field, 0, len(d.Offers)+1)
	for _, o := range d.Offers {
		if o.Tier == emergency.TierIgnore {
			continue
		}
		fields = append(fields, domain.Field{Name: string(o.Tier), Value: fmt.Sprintf("%d coins", o.Cost)})
	}
	fields = append(fields,
		domain.Field{Name: "Coins lost", Value: fmt.Sprintf("%d", -ev.BalanceImpact)},
		domain.Field{Name: "Respond by", Value: d.ExpiresAt.Format("2006-01-02 15:04 MST")},
	)
	return domain.Message{
		Kind:   domain.MsgMinorEvent,
		TypeID: e.TypeID,
		Title:  fmt.Sprintf("Business emergency: %s", e.DisplayName),
		Body:   ev.Narrative,
		Fields: fields,
	}
}

func catastrophicMessage(e domain.CatalogEntry, ev domain.Event) domain.Message {
	return domain.Message{
		Kind:   domain.MsgCatastrophicEvent,
		TypeID: e.TypeID,
		Title:  fmt.Sprintf("%s destroyed", e.DisplayName),
		Body:   ev.Narrative,
		Fields: []domain.Field{
			{Name: "Coins lost", Value: fmt.Sprintf("%d", -ev.BalanceImpact)},
			{Name: "Reopen cost", Value: fmt.Sprintf("%d coins", e.ReopenCost())},
		},
	}
}

func shutdownMessage(e domain.CatalogEntry, cause string) domain.Message {
	body := fmt.Sprintf("Your %s reached 0%% maintenance and has shut down.", e.DisplayName)
	if cause != "" {
		body = cause + " " + body
	}
	return domain.Message{
		Kind:   domain.MsgShutdown,
		TypeID: e.TypeID,
		Title:  fmt.Sprintf("%s shut down", e.DisplayName),
		Body:   body + " Buy it again to reopen at half price.",
		Fields: []domain.Field{{Name: "Reopen cost", Value: fmt.Sprintf("%d coins", e.ReopenCost())}},
	}
}
