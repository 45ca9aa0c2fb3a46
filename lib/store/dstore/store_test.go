package dstore

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/maple"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/dstore/internal"
	storetesting "github.com/ValentinKolb/dLock/lib/store/testing"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/config"
	"github.com/lni/dragonboat/v4/logger"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

const testShardID = 1

// freeAddress returns a local address that is currently not in use
func freeAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	defer l.Close()
	return l.Addr().String()
}

// startSingleNode starts a node host with one replica of testShardID
func startSingleNode(t *testing.T) store.IStore {
	t.Helper()

	for _, name := range []string{"raft", "rsm", "transport", "dragonboat", "logdb", "config", "store"} {
		logger.GetLogger(name).SetLevel(logger.ERROR)
	}

	dir := t.TempDir()
	addr := freeAddress(t)
	nh, err := dragonboat.NewNodeHost(config.NodeHostConfig{
		WALDir:         dir,
		NodeHostDir:    dir,
		RTTMillisecond: 10,
		RaftAddress:    addr,
	})
	if err != nil {
		t.Fatalf("failed to create node host: %v", err)
	}
	t.Cleanup(nh.Close)

	hubs := NewHubs()
	factory := func() db.LockDB { return maple.NewMapleDB(nil) }
	err = nh.StartConcurrentReplica(
		map[uint64]string{1: addr},
		false,
		CreateStateMachineFactory(factory, hubs),
		config.Config{
			ReplicaID:    1,
			ShardID:      testShardID,
			ElectionRTT:  10,
			HeartbeatRTT: 1,
			CheckQuorum:  true,
		})
	if err != nil {
		t.Fatalf("failed to start replica: %v", err)
	}

	s := NewDistributedStore(nh, testShardID, 2*time.Second, hubs)

	// wait until the shard has a leader
	deadline := time.Now().Add(10 * time.Second)
	for {
		_, err := s.Exists("ready")
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("shard did not become ready: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	return s
}

func TestDistributedStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping raft test in short mode")
	}
	s := startSingleNode(t)
	storetesting.RunIStoreTests(t, "DistributedStore", func() store.IStore {
		return s
	})
}

// TestHubsPerShard tests that every shard has a hub of its own
func TestHubsPerShard(t *testing.T) {
	hubs := NewHubs()
	if hubs.For(1) != hubs.For(1) {
		t.Error("Expected the same hub for the same shard")
	}
	if hubs.For(1) == hubs.For(2) {
		t.Error("Expected different hubs for different shards")
	}

	hubs.For(1).Publish("ch")
	if seq := hubs.For(2).Sequence("ch"); seq != 0 {
		t.Errorf("Sequence() on another shard = %d, want 0", seq)
	}
}

// TestStateMachineUpdate tests the state machine without raft
func TestStateMachineUpdate(t *testing.T) {
	hubs := NewHubs()
	fsm := CreateStateMachineFactory(func() db.LockDB { return maple.NewMapleDB(nil) }, hubs)(7, 1)
	defer fsm.Close()

	commands := []*internal.Command{
		{Type: internal.CommandTAcquire, Now: 1000, Key: "k", Identifier: "a"},
		{Type: internal.CommandTAcquire, Now: 1000, Key: "k", Identifier: "b"},
		{Type: internal.CommandTRelease, Now: 1001, Key: "k", Identifier: "a", Channel: "ch"},
	}
	entries := make([]sm.Entry, 0, len(commands)+1)
	for i, cmd := range commands {
		entries = append(entries, sm.Entry{Index: uint64(i + 1), Cmd: cmd.Serialize()})
	}
	entries = append(entries, sm.Entry{Index: uint64(len(commands) + 1)})

	results, err := fsm.Update(entries)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	want := []struct {
		code uint64
		ok   bool
		n    int64
	}{
		{uint64(store.RetCSuccess), true, 0},
		{uint64(store.RetCSuccess), false, -1},
		{uint64(store.RetCSuccess), true, 0},
	}
	for i, w := range want {
		if results[i].Result.Value != w.code {
			t.Fatalf("entry %d: code = %d, want %d", i, results[i].Result.Value, w.code)
		}
		ok, n, err := internal.DecodeResult(results[i].Result.Data)
		if err != nil || ok != w.ok || n != w.n {
			t.Errorf("entry %d: result = %v, %d, %v, want %v, %d", i, ok, n, err, w.ok, w.n)
		}
	}
	if results[3].Result.Value != uint64(store.RetCInvalidOperation) {
		t.Errorf("empty entry: code = %d, want %d", results[3].Result.Value, store.RetCInvalidOperation)
	}

	if seq := hubs.For(7).Sequence("ch"); seq != 1 {
		t.Errorf("Sequence() after release = %d, want 1", seq)
	}
}

func ExampleNewHubs() {
	hubs := NewHubs()
	hubs.For(1).Publish("orders")
	fmt.Println(hubs.For(1).Sequence("orders"))
	// Output: 1
}
