package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/ValentinKolb/dLock/lib/store"
)

func TestResponseErrors(t *testing.T) {
	tests := []struct {
		name     string
		msg      *Message
		wantErr  bool
		wantCode store.RetCode
	}{
		{
			name: "no error",
			msg:  NewExistsResponse(true, nil),
		},
		{
			name:     "store error keeps its code",
			msg:      NewAcquireResponse(false, 0, store.NewError(store.RetCUnsupportedOperation, "not supported")),
			wantErr:  true,
			wantCode: store.RetCUnsupportedOperation,
		},
		{
			name:     "wrapped store error keeps its code",
			msg:      NewReleaseResponse(0, fmt.Errorf("release: %w", store.NewError(store.RetCInvalidOperation, "bad"))),
			wantErr:  true,
			wantCode: store.RetCInvalidOperation,
		},
		{
			name:     "other errors are internal errors",
			msg:      NewRenewResponse(false, errors.New("boom")),
			wantErr:  true,
			wantCode: store.RetCInternalError,
		},
		{
			name:     "error response",
			msg:      NewErrorResponse("shard 7 not found"),
			wantErr:  true,
			wantCode: store.RetCInvalidOperation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.AsError()
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("AsError() = %v, want nil", err)
				}
				return
			}

			var storeErr *store.Error
			if !errors.As(err, &storeErr) {
				t.Fatalf("AsError() = %v, want a *store.Error", err)
			}
			if storeErr.Code != tt.wantCode {
				t.Errorf("code = %v, want %v", storeErr.Code, tt.wantCode)
			}
		})
	}
}

func TestMessageTypeJSON(t *testing.T) {
	types := []MessageType{
		MsgTSuccess, MsgTError,
		MsgTLCKAcquire, MsgTLCKRelease, MsgTLCKDelete, MsgTLCKExists,
		MsgTLCKIsMember, MsgTLCKHoldCount, MsgTLCKRenew,
		MsgTPubSeq, MsgTPubWatch, MsgTDBInfo,
	}

	for _, typ := range types {
		t.Run(typ.String(), func(t *testing.T) {
			data, err := json.Marshal(typ)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			var got MessageType
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", data, err)
			}
			if got != typ {
				t.Errorf("Unmarshal(%s) = %v, want %v", data, got, typ)
			}
		})
	}
}
