package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/library-systems/gatehouse/internal/model"
)

// domainEnvelope is the §3.1 outbound fan-out shape published to NATS after
// a batch commits. It is not the gate/backend wire protocol — WireEvent is.
type domainEnvelope struct {
	Subject       string     `json:"subject"`
	EntryID       *uuid.UUID `json:"entryId,omitempty"`
	ExitID        *uuid.UUID `json:"exitId,omitempty"`
	Roll          string     `json:"roll"`
	Status        string     `json:"status,omitempty"`
	ExitFlag      string     `json:"exitFlag,omitempty"`
	OccurredAt    time.Time  `json:"occurredAt"`
	SourceEventID uuid.UUID  `json:"sourceEventId"`
}

var entryTransitions = map[string]string{
	string(model.EntryEntered): "entered",
	string(model.EntryExited):  "exited",
	string(model.EntryExpired): "expired",
}

// domainEventEnvelope builds the subject and JSON body for ev, per §3.1.
func domainEventEnvelope(ev model.WireEvent) (string, []byte, error) {
	now := time.Now().UTC()

	switch ev.Type {
	case model.EventEntry, model.EventEntryExpiredSeen:
		status := ""
		if ev.Status != nil {
			status = *ev.Status
		} else if ev.Type == model.EventEntryExpiredSeen {
			status = string(model.EntryExpired)
		}
		transition, ok := entryTransitions[status]
		if !ok {
			transition = "updated"
		}
		subject := fmt.Sprintf("entry_log.%s", transition)
		env := domainEnvelope{
			Subject:       "DOMAIN_EVENTS." + subject,
			EntryID:       ev.EntryID,
			Roll:          ev.Roll,
			Status:        status,
			OccurredAt:    now,
			SourceEventID: ev.EventID,
		}
		body, err := json.Marshal(env)
		return subject, body, err

	case model.EventExit:
		subject := "exit_log.closed"
		exitFlag := ""
		if ev.ExitFlag != nil {
			exitFlag = *ev.ExitFlag
		}
		env := domainEnvelope{
			Subject:       "DOMAIN_EVENTS." + subject,
			ExitID:        ev.ExitID,
			EntryID:       ev.EntryID,
			Roll:          ev.Roll,
			ExitFlag:      exitFlag,
			OccurredAt:    now,
			SourceEventID: ev.EventID,
		}
		body, err := json.Marshal(env)
		return subject, body, err

	default:
		return "", nil, fmt.Errorf("ingest: no domain event mapping for type %q", ev.Type)
	}
}
