package state

import (
	"context"
	"testing"
	"time"

	"missioncontrol/internal/model"
)

func encodeDoc(t *testing.T, doc model.AppState) []byte {
	t.Helper()
	payload, err := model.Encode(doc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return payload
}

func TestOpenLocalVersionGate(t *testing.T) {
	clock := newFakeClock()
	defaultTargets := model.Default(clock.Now()).Orgs.Maestro.StrategicTargets

	cases := []struct {
		name    string
		stored  []byte
		targets string
	}{
		{name: "missing", targets: defaultTargets},
		{name: "unparsable", stored: []byte("{not json"), targets: defaultTargets},
		{name: "no orgs", stored: []byte(`{"version":"1.1.0"}`), targets: defaultTargets},
		{
			name: "older version",
			stored: encodeDoc(t, func() model.AppState {
				doc := model.Default(clock.Now())
				doc.Version = "1.0.0"
				doc.Orgs.Maestro.StrategicTargets = "stale"
				return doc
			}()),
			targets: defaultTargets,
		},
		{
			name: "current version",
			stored: encodeDoc(t, func() model.AppState {
				doc := model.Default(clock.Now())
				doc.Orgs.Maestro.StrategicTargets = "saved"
				return doc
			}()),
			targets: "saved",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemKV()
			if tc.stored != nil {
				store.data[StorageKey] = tc.stored
			}
			local, err := OpenLocal(context.Background(), store, WithClock(clock))
			if err != nil {
				t.Fatalf("OpenLocal() error = %v", err)
			}
			defer local.Close()
			if got := local.State().Orgs.Maestro.StrategicTargets; got != tc.targets {
				t.Fatalf("targets = %q, want %q", got, tc.targets)
			}
			if local.Status().Phase != PhaseLocal {
				t.Fatalf("phase = %q", local.Status().Phase)
			}
		})
	}
}

func TestLocalStoreDebouncesSaves(t *testing.T) {
	clock := newFakeClock()
	store := newMemKV()
	local, err := OpenLocal(context.Background(), store, WithClock(clock))
	if err != nil {
		t.Fatalf("OpenLocal() error = %v", err)
	}
	defer local.Close()

	local.Update(context.Background(), setTargets("one"))
	clock.Advance(300 * time.Millisecond)
	local.Update(context.Background(), setTargets("two"))
	clock.Advance(DefaultDebounce - time.Millisecond)
	if _, found, _ := store.Get(context.Background(), StorageKey); found {
		t.Fatal("saved before quiet period ended")
	}

	clock.Advance(time.Millisecond)
	payload, found, _ := store.Get(context.Background(), StorageKey)
	if !found {
		t.Fatal("nothing saved")
	}
	doc, err := model.Decode(payload)
	if err != nil {
		t.Fatalf("decode saved: %v", err)
	}
	if doc.Orgs.Maestro.StrategicTargets != "two" {
		t.Fatalf("saved targets = %q", doc.Orgs.Maestro.StrategicTargets)
	}
}

func TestLocalStoreCloseFlushesAndReopens(t *testing.T) {
	clock := newFakeClock()
	store := newMemKV()
	local, err := OpenLocal(context.Background(), store, WithClock(clock))
	if err != nil {
		t.Fatalf("OpenLocal() error = %v", err)
	}
	local.Update(context.Background(), setTargets("before close"))
	if err := local.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenLocal(context.Background(), store, WithClock(clock))
	if err != nil {
		t.Fatalf("OpenLocal() error = %v", err)
	}
	defer reopened.Close()
	if got := reopened.State().Orgs.Maestro.StrategicTargets; got != "before close" {
		t.Fatalf("targets after reopen = %q", got)
	}
}
