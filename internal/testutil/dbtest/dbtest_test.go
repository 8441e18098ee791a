package dbtest

import (
	"context"
	"testing"
)

func TestSeedScenario(t *testing.T) {
	database := OpenDB(t)
	engine := NewEngine(t, database)
	s := SeedScenario(t, database, engine)

	h, ok, err := database.GetHost(context.Background(), s.DiscoveredHostID)
	if err != nil || !ok {
		t.Fatalf("get discovered host: ok=%v err=%v", ok, err)
	}
	if !h.IsDiscovered() || len(h.Templates) != 3 {
		t.Fatalf("unexpected discovered host: %+v", h)
	}
	entities, err := database.ListEntities(context.Background(), s.ManualHostID)
	if err != nil {
		t.Fatalf("list entities: %v", err)
	}
	if len(entities) != 1 || entities[0].Name != "T3 item1" {
		t.Fatalf("unexpected manual host entities: %+v", entities)
	}
}
