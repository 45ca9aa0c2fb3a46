package serve

import (
	"testing"

	"github.com/ValentinKolb/dLock/lib/db/util"
	"github.com/ValentinKolb/dLock/rpc/common"
)

func TestParseShards(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []common.ServerShard
		wantErr bool
	}{
		{
			name:  "single local shard",
			input: "100=lstore",
			want:  []common.ServerShard{{ShardID: 100, Type: common.ShardTypeLocalIStore}},
		},
		{
			name:  "mixed shards with spaces",
			input: "100=lstore, 200 = dstore",
			want: []common.ServerShard{
				{ShardID: 100, Type: common.ShardTypeLocalIStore},
				{ShardID: 200, Type: common.ShardTypeRemoteIStore},
			},
		},
		{name: "missing type", input: "100", wantErr: true},
		{name: "invalid id", input: "abc=lstore", wantErr: true},
		{name: "unknown type", input: "100=lockmgr(lstore)", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseShards(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d shards, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("shard %d: expected %+v, got %+v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestParseClusterMembers(t *testing.T) {
	members, err := parseClusterMembers("node-1=localhost:63001,node-2=localhost:63002")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	if addr := members[util.HashString("node-1", 0)]; addr != "localhost:63001" {
		t.Errorf("expected localhost:63001 for node-1, got %q", addr)
	}
	if addr := members[util.HashString("node-2", 0)]; addr != "localhost:63002" {
		t.Errorf("expected localhost:63002 for node-2, got %q", addr)
	}

	if _, err := parseClusterMembers("node-1"); err == nil {
		t.Error("expected error for a member without address")
	}
}
