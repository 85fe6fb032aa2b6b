package mesh_test

import (
	"context"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/dantte-lp/etcmesh/internal/mesh"
)

// recordingLink is a fake Broadcaster that records every frame handed to
// it so a test can inspect what a node actually sent.
type recordingLink struct {
	mu         sync.Mutex
	broadcasts [][]byte
}

func (l *recordingLink) Send(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := append([]byte(nil), frame...)
	l.broadcasts = append(l.broadcasts, cp)
	return nil
}

// unicastSender is a fake mesh.Unicaster that accepts and discards every
// unicast frame; recordingLink backs only the Broadcaster side, since
// Node's Broadcaster and Unicaster are separate interfaces.
type unicastSender struct{}

func (unicastSender) Send(_ mesh.Addr, _ []byte) error { return nil }

func (l *recordingLink) lastBroadcast() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.broadcasts) == 0 {
		return nil
	}
	return l.broadcasts[len(l.broadcasts)-1]
}

func testTiming() mesh.Timing {
	return mesh.Timing{
		BeaconInterval:        time.Hour, // disable periodic beacons for these tests
		BeaconForwardDelay:    10 * time.Millisecond,
		EventForwardDelay:     10 * time.Millisecond,
		CollectStartDelayMin:  10 * time.Millisecond,
		CollectStartDelayMax:  20 * time.Millisecond,
		ControllerCollectWait: 200 * time.Millisecond,
		SuppressNew:           100 * time.Millisecond,
		SuppressProp:          100 * time.Millisecond,
		SuppressEnd:           10 * time.Millisecond,
		DiscoverySuppress:     100 * time.Millisecond,
		EmergencySuppress:     100 * time.Millisecond,
	}
}

func openTestNode(self, controller mesh.Addr, sensors []mesh.Addr, link *recordingLink, cb mesh.Callbacks) *mesh.Node {
	return mesh.Open(mesh.NodeConfig{
		Self: self, Controller: controller, Sensors: sensors,
		Timing: testTiming(), Limits: mesh.DefaultLimits(len(sensors)),
		Callbacks:   cb,
		Broadcaster: link,
		Unicaster:   unicastSender{},
	})
}

func TestNodeSensorDisconnectedTriggerStillFloods(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		controller := addr(0, 1)
		sensor := addr(0, 2)
		link := &recordingLink{}

		n := openTestNode(sensor, controller, []mesh.Addr{sensor}, link, mesh.Callbacks{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go n.Run(ctx)
		synctest.Wait()

		res := n.Trigger(500, 100)
		synctest.Wait()

		if res != mesh.TriggerStarted {
			t.Fatalf("Trigger result = %v, want Started", res)
		}
		frame := link.lastBroadcast()
		bf, err := mesh.DecodeBroadcast(frame)
		if err != nil {
			t.Fatalf("DecodeBroadcast: %v", err)
		}
		if bf.Type != mesh.BroadcastEvent {
			t.Errorf("broadcast type = %v, want EVENT", bf.Type)
		}
	})
}

func TestNodeTriggerSuppressedWithinWindow(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		controller := addr(0, 1)
		sensor := addr(0, 2)
		link := &recordingLink{}

		n := openTestNode(sensor, controller, []mesh.Addr{sensor}, link, mesh.Callbacks{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go n.Run(ctx)
		synctest.Wait()

		if res := n.Trigger(1, 1); res != mesh.TriggerStarted {
			t.Fatalf("first Trigger = %v, want Started", res)
		}
		synctest.Wait()

		if res := n.Trigger(2, 1); res != mesh.TriggerSuppressed {
			t.Errorf("second Trigger within suppress_new window = %v, want Suppressed", res)
		}
	})
}

func TestNodeControllerAggregatesAllSensors(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		controller := addr(0, 1)
		sensorA := addr(0, 2)
		sensorB := addr(0, 3)
		link := &recordingLink{}

		var mu sync.Mutex
		var gotValues map[mesh.Addr]mesh.CollectPayload
		var completed int

		n := openTestNode(controller, controller, []mesh.Addr{sensorA, sensorB}, link, mesh.Callbacks{
			OnAggregationComplete: func(_ mesh.EventID, values map[mesh.Addr]mesh.CollectPayload) {
				mu.Lock()
				defer mu.Unlock()
				gotValues = values
				completed++
			},
		})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go n.Run(ctx)
		synctest.Wait()

		hdr := mesh.UnicastHeader{Type: mesh.UnicastCollect}
		n.HandleUnicastRecv(sensorA, mesh.EncodeCollect(hdr, mesh.CollectPayload{
			EventSeqn: 1, EventSource: sensorA, Sender: sensorA, Value: 10, Threshold: 5,
		}))
		n.HandleUnicastRecv(sensorB, mesh.EncodeCollect(hdr, mesh.CollectPayload{
			EventSeqn: 1, EventSource: sensorA, Sender: sensorB, Value: 20, Threshold: 5,
		}))
		synctest.Wait()

		mu.Lock()
		defer mu.Unlock()
		if completed != 1 {
			t.Fatalf("OnAggregationComplete fired %d times, want 1", completed)
		}
		if len(gotValues) != 2 {
			t.Errorf("aggregated %d sensor values, want 2", len(gotValues))
		}
	})
}

func TestNodeControllerAggregationTimesOutWithPartialReports(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		controller := addr(0, 1)
		sensorA := addr(0, 2)
		sensorB := addr(0, 3)
		link := &recordingLink{}

		var mu sync.Mutex
		var completed int
		var gotValues map[mesh.Addr]mesh.CollectPayload

		n := openTestNode(controller, controller, []mesh.Addr{sensorA, sensorB}, link, mesh.Callbacks{
			OnAggregationComplete: func(_ mesh.EventID, values map[mesh.Addr]mesh.CollectPayload) {
				mu.Lock()
				defer mu.Unlock()
				gotValues, completed = values, completed+1
			},
		})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go n.Run(ctx)
		synctest.Wait()

		hdr := mesh.UnicastHeader{Type: mesh.UnicastCollect}
		n.HandleUnicastRecv(sensorA, mesh.EncodeCollect(hdr, mesh.CollectPayload{
			EventSeqn: 1, EventSource: sensorA, Sender: sensorA, Value: 10, Threshold: 5,
		}))
		time.Sleep(testTiming().ControllerCollectWait + 10*time.Millisecond)
		synctest.Wait()

		mu.Lock()
		defer mu.Unlock()
		if completed != 1 {
			t.Fatalf("OnAggregationComplete fired %d times, want 1 after the wait window elapsed", completed)
		}
		if len(gotValues) != 1 {
			t.Errorf("aggregated %d sensor values, want 1 (the only reporter)", len(gotValues))
		}
	})
}

func TestNodeCommandNoRouteReturnsNoRoute(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		controller := addr(0, 1)
		link := &recordingLink{}
		n := openTestNode(controller, controller, []mesh.Addr{addr(0, 2)}, link, mesh.Callbacks{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go n.Run(ctx)
		synctest.Wait()

		res := n.Command(addr(0, 2), mesh.CommandReset, 0)
		if res != mesh.CommandNoRoute {
			t.Errorf("Command to an unknown route = %v, want NoRoute", res)
		}
	})
}

func TestNodeDuplicateCommandDeliveredOnce(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		controller := addr(0, 1)
		sensor := addr(0, 2)
		link := &recordingLink{}

		var mu sync.Mutex
		var delivered int

		n := openTestNode(sensor, controller, []mesh.Addr{sensor}, link, mesh.Callbacks{
			OnCommand: func(_ uint16, _ mesh.Addr, _ mesh.Command, _ uint32) {
				mu.Lock()
				delivered++
				mu.Unlock()
			},
		})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go n.Run(ctx)
		synctest.Wait()

		hdr := mesh.UnicastHeader{Type: mesh.UnicastCommand, FinalReceiver: sensor}
		p := mesh.CommandPayload{EventSeqn: 1, EventSource: controller, Receiver: sensor, Cmd: mesh.CommandReset}
		frame := mesh.EncodeCommand(hdr, p)

		n.HandleUnicastRecv(controller, frame)
		synctest.Wait()
		n.HandleUnicastRecv(controller, frame) // redelivery of the same command
		synctest.Wait()

		mu.Lock()
		defer mu.Unlock()
		if delivered != 1 {
			t.Errorf("OnCommand fired %d times for a duplicate command, want 1", delivered)
		}
	})
}

func TestNodeBeaconTreeFormation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		controller := addr(0, 1)
		sensor := addr(0, 2)
		link := &recordingLink{}

		n := openTestNode(sensor, controller, []mesh.Addr{sensor}, link, mesh.Callbacks{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go n.Run(ctx)
		synctest.Wait()

		if !n.Status().Disconnected {
			t.Fatal("sensor reports connected before any beacon was heard")
		}

		n.HandleBroadcastRecv(addr(0, 9), -40, mesh.EncodeBeacon(mesh.BeaconPayload{Seqn: 1, Hopn: 0}))
		synctest.Wait()

		snap := n.Status()
		if snap.Disconnected {
			t.Fatal("sensor still disconnected after accepting a beacon")
		}
		if snap.CurrentParent != addr(0, 9) {
			t.Errorf("CurrentParent = %v, want %v", snap.CurrentParent, addr(0, 9))
		}
	})
}
