package internal

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// TestSizeBytes tests the SizeBytes method
func TestSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		command  Command
		expected int
	}{
		{
			name: "Acquire with all fields",
			command: Command{
				Type:       CommandTAcquire,
				Now:        1000,
				LeaseMs:    200,
				Key:        "testkey",
				Identifier: "a:b:c",
			},
			expected: 1 + 8 + 8 + 4 + 7 + 4 + 5 + 4 + 0, // Type + Now + LeaseMs + Key + Identifier + Channel
		},
		{
			name: "Release with channel",
			command: Command{
				Type:       CommandTRelease,
				Key:        "testkey",
				Identifier: "id",
				Channel:    "chan",
			},
			expected: 1 + 8 + 8 + 4 + 7 + 4 + 2 + 4 + 4,
		},
		{
			name:     "Empty command",
			command:  Command{Type: CommandTDelete},
			expected: headerSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := tt.command.SizeBytes()
			if size != tt.expected {
				t.Errorf("SizeBytes() = %v, want %v", size, tt.expected)
			}
		})
	}
}

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{
			name: "Acquire with lease",
			command: Command{
				Type:       CommandTAcquire,
				Now:        1712345678901,
				LeaseMs:    30_000,
				Key:        "orders",
				Identifier: "orders:8c1f:11aa",
			},
		},
		{
			name: "Acquire without lease",
			command: Command{
				Type:       CommandTAcquire,
				Now:        1,
				LeaseMs:    -1,
				Key:        "orders",
				Identifier: "orders:8c1f:11aa",
			},
		},
		{
			name: "Release with channel",
			command: Command{
				Type:       CommandTRelease,
				Now:        42,
				Key:        "orders",
				Identifier: "orders:8c1f:11aa",
				Channel:    "distbtsync_redis_lock_orders",
			},
		},
		{
			name: "Delete with empty strings",
			command: Command{
				Type: CommandTDelete,
			},
		},
		{
			name: "Renew with max clock",
			command: Command{
				Type:       CommandTRenew,
				Now:        18446744073709551615, // Max uint64
				LeaseMs:    1,
				Key:        "k",
				Identifier: "i",
			},
		},
		{
			name: "Unicode key",
			command: Command{
				Type:       CommandTAcquire,
				Key:        "你好世界", // Hello World in Chinese
				Identifier: "ü",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.command.Serialize()

			var newCommand Command
			if err := newCommand.Deserialize(data); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}

			if newCommand != tt.command {
				t.Errorf("Deserialize() = %+v, want %+v", newCommand, tt.command)
			}

			if tt.command.SizeBytes() != len(data) {
				t.Errorf("SizeBytes() = %d, but serialized data length = %d",
					tt.command.SizeBytes(), len(data))
			}
		})
	}
}

// TestDeserializeErrors tests error cases in Deserialize
func TestDeserializeErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectedErr string
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectedErr: "data too short for command",
		},
		{
			name:        "Data too short (less than header)",
			data:        []byte{1, 2, 3, 4, 5},
			expectedErr: "data too short for command",
		},
		{
			name: "Invalid key length",
			data: func() []byte {
				data := make([]byte, headerSize)
				data[0] = byte(CommandTAcquire)
				binary.BigEndian.PutUint32(data[17:21], 1000)
				return data
			}(),
			expectedErr: "data too short for string of length 1000",
		},
		{
			name: "Trailing bytes",
			data: func() []byte {
				return append((&Command{Type: CommandTDelete, Key: "k"}).Serialize(), 0, 0)
			}(),
			expectedErr: "2 trailing bytes after command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			err := cmd.Deserialize(tt.data)

			if err == nil {
				t.Fatalf("Expected error but got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("Expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

// TestBinaryFormat tests the exact binary format of serialized commands
func TestBinaryFormat(t *testing.T) {
	cmd := Command{
		Type:       CommandTRelease,
		Now:        12345,
		LeaseMs:    67890,
		Key:        "key",
		Identifier: "id",
		Channel:    "ch",
	}

	expected := make([]byte, 0, cmd.SizeBytes())
	expected = append(expected, byte(CommandTRelease))
	expected = binary.BigEndian.AppendUint64(expected, 12345)
	expected = binary.BigEndian.AppendUint64(expected, 67890)
	for _, s := range []string{"key", "id", "ch"} {
		expected = binary.BigEndian.AppendUint32(expected, uint32(len(s)))
		expected = append(expected, s...)
	}

	serialized := cmd.Serialize()
	if !bytes.Equal(serialized, expected) {
		t.Errorf("Binary format does not match:\nGot:      %v\nExpected: %v", serialized, expected)
	}
}

// TestResultEncoding tests EncodeResult and DecodeResult
func TestResultEncoding(t *testing.T) {
	tests := []struct {
		ok bool
		n  int64
	}{
		{true, 0},
		{false, -1},
		{false, -2},
		{true, 1 << 40},
	}

	for _, tt := range tests {
		ok, n, err := DecodeResult(EncodeResult(tt.ok, tt.n))
		if err != nil {
			t.Fatalf("DecodeResult() error = %v", err)
		}
		if ok != tt.ok || n != tt.n {
			t.Errorf("DecodeResult() = %v, %d, want %v, %d", ok, n, tt.ok, tt.n)
		}
	}

	if _, _, err := DecodeResult([]byte{1}); err == nil {
		t.Error("Expected error for a short result")
	}
}
