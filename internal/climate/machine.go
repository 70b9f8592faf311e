// Package climate turns decoded controller events into a typed device state
// snapshot and an hourly energy log, and dispatches climate-control intents
// back to the device. It is the single writer of all device state.
package climate

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chaz8081/panasonic-hc/internal/ble"
	"github.com/chaz8081/panasonic-hc/internal/hcproto"
)

// State is the synchronization state of the device state machine.
type State int

const (
	StateUninitialized State = iota
	StateSyncing
	StateReady
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSyncing:
		return "syncing"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	}
	return "unknown"
}

// Snapshot is the latest known device state. Fields are only ever updated
// together from a fully decoded status frame or a confirmed command, so a
// snapshot is always internally consistent.
type Snapshot struct {
	Power          bool
	Mode           hcproto.Mode
	TargetTemp     float64
	FanSpeed       hcproto.FanSpeed
	Powersave      bool
	CurrentTemp    float64
	HasCurrentTemp bool
	OutdoorTemp    float64
	HasOutdoorTemp bool

	// Stale is set while the link is down: the data is the last confirmed
	// state, not the current one.
	Stale     bool
	UpdatedAt time.Time
}

// HVACMode folds power into the mode the way climate frontends expect.
func (s Snapshot) HVACMode() string {
	if !s.Power {
		return "off"
	}
	return s.Mode.String()
}

// EnergySample is one hour of measured consumption.
type EnergySample struct {
	HourStart time.Time
	EnergyWh  int
}

// Machine consumes decoded events and connection lifecycle signals. All
// mutation happens on its single event-processing path; readers only ever
// get copies.
type Machine struct {
	mu         sync.Mutex
	state      State
	snap       Snapshot
	haveStatus bool
	energy     map[int64]int // unix seconds of hour start -> Wh
	conflicts  int
	onUpdate   func()
	log        *slog.Logger
	now        func() time.Time
}

// NewMachine creates a state machine in the Uninitialized state.
func NewMachine() *Machine {
	return &Machine{
		state:  StateUninitialized,
		energy: make(map[int64]int),
		log:    slog.Default().With("subsystem", "climate"),
		now:    time.Now,
	}
}

// OnUpdate registers a callback fired after every snapshot or energy log
// mutation. Must be set before events start flowing.
func (m *Machine) OnUpdate(cb func()) { m.onUpdate = cb }

// State returns the current machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HandleConnState reacts to connection lifecycle transitions. A (re)connect
// moves to Syncing: the cached snapshot is not trusted until the device
// sends a fresh full status.
func (m *Machine) HandleConnState(s ble.ConnState) {
	m.mu.Lock()
	switch s {
	case ble.StateConnected:
		m.state = StateSyncing
	case ble.StateReconnecting, ble.StateDisconnected:
		if m.state != StateUninitialized {
			m.state = StateDegraded
		}
		m.snap.Stale = true
	}
	state := m.state
	m.mu.Unlock()

	m.log.Debug("machine state", "conn", s.String(), "state", state.String())
	m.notify()
}

// ApplyEvent applies one decoded event. Events must be applied in arrival
// order; callers must not decode or apply in parallel.
func (m *Machine) ApplyEvent(ev hcproto.Event) {
	switch e := ev.(type) {
	case hcproto.StatusUpdate:
		m.applyStatus(e)
	case hcproto.EnergyTick:
		m.applyEnergy(e)
	case hcproto.OutdoorTemp:
		m.applyOutdoor(e)
	case hcproto.Unknown:
		m.log.Debug("ignoring unknown packet type", "type", e.Type, "len", len(e.Data))
	}
	// CommandAck/CommandNack are resolved by the dispatcher, not here.
}

func (m *Machine) applyStatus(e hcproto.StatusUpdate) {
	m.mu.Lock()
	outdoor, hasOutdoor := m.snap.OutdoorTemp, m.snap.HasOutdoorTemp
	m.snap = Snapshot{
		Power:          e.Power,
		Mode:           e.Mode,
		TargetTemp:     e.TargetTemp,
		FanSpeed:       e.FanSpeed,
		Powersave:      e.Powersave,
		CurrentTemp:    e.CurrentTemp,
		HasCurrentTemp: e.HasCurrentTemp,
		OutdoorTemp:    outdoor,
		HasOutdoorTemp: hasOutdoor,
		UpdatedAt:      m.now(),
	}
	m.haveStatus = true
	if m.state == StateSyncing {
		m.state = StateReady
	}
	m.mu.Unlock()

	m.log.Debug("status applied", "mode", e.Mode.String(), "target", e.TargetTemp, "power", e.Power)
	m.notify()
}

// applyEnergy upserts a sample by hour. A replay carrying less energy than
// an already-recorded reading for the same hour is stale data and is
// dropped as a conflict.
func (m *Machine) applyEnergy(e hcproto.EnergyTick) {
	hour := e.HourStart.Truncate(time.Hour).Unix()

	m.mu.Lock()
	existing, ok := m.energy[hour]
	if ok && e.EnergyWh < existing {
		m.conflicts++
		conflicts := m.conflicts
		m.mu.Unlock()
		m.log.Warn("dropping stale energy replay", "hour", e.HourStart, "wh", e.EnergyWh, "have", existing, "conflicts", conflicts)
		return
	}
	if ok && e.EnergyWh == existing {
		m.mu.Unlock()
		return // idempotent
	}
	m.energy[hour] = e.EnergyWh
	m.mu.Unlock()

	m.notify()
}

func (m *Machine) applyOutdoor(e hcproto.OutdoorTemp) {
	m.mu.Lock()
	m.snap.OutdoorTemp = e.Temp
	m.snap.HasOutdoorTemp = true
	m.snap.UpdatedAt = m.now()
	m.mu.Unlock()
	m.notify()
}

// ApplyConfirmed mutates the snapshot with the effect of an acknowledged
// command. Called by the controller once the device has acked the write.
func (m *Machine) ApplyConfirmed(mutate func(*Snapshot)) {
	m.mu.Lock()
	mutate(&m.snap)
	m.snap.UpdatedAt = m.now()
	m.mu.Unlock()
	m.notify()
}

// Snapshot returns a copy of the current snapshot. The Stale flag reflects
// link health at call time.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// EnergySince returns samples with HourStart >= t, ordered by hour.
func (m *Machine) EnergySince(t time.Time) []EnergySample {
	cutoff := t.Unix()

	m.mu.Lock()
	samples := make([]EnergySample, 0, len(m.energy))
	for hour, wh := range m.energy {
		if hour >= cutoff {
			samples = append(samples, EnergySample{
				HourStart: time.Unix(hour, 0).UTC(),
				EnergyWh:  wh,
			})
		}
	}
	m.mu.Unlock()

	sort.Slice(samples, func(i, j int) bool {
		return samples[i].HourStart.Before(samples[j].HourStart)
	})
	return samples
}

// Conflicts returns the number of rejected out-of-order energy replays.
func (m *Machine) Conflicts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conflicts
}

func (m *Machine) notify() {
	if m.onUpdate != nil {
		m.onUpdate()
	}
}
