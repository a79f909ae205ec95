package server

import (
	"encoding/json"
	"log"

	"party-cards/internal/db"
	"party-cards/internal/game"

	"gorm.io/datatypes"
)

// persistEvent appends one audit row. The log is optional and best effort:
// without a database nothing is written, and a failed write never affects
// the session.
func (s *Server) persistEvent(code, eventType, clientID, identity string, payload EventPayload) {
	if s.db == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("audit encode failed session=%s type=%s error=%v", code, eventType, err)
		return
	}
	record := db.Event{
		SessionCode: code,
		Type:        eventType,
		ClientID:    clientID,
		Identity:    identity,
		Payload:     datatypes.JSON(data),
		CreatedAt:   s.clock.Now(),
	}
	if err := s.db.Create(&record).Error; err != nil {
		log.Printf("audit write failed session=%s type=%s error=%v", code, eventType, err)
	}
}

func (s *Server) persistCollected(r *room, reason string) {
	view := game.Read(r.doc, "")
	s.persistEvent(r.code, db.EventDocumentCollected, "", "", EventPayload{
		Document: r.code,
		Reason:   reason,
		Phase:    string(view.Game.Phase),
		Round:    view.Game.Round,
	})
}
