package core_test

import (
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/dkeye/Logotopia/internal/core"
	"github.com/dkeye/Logotopia/internal/core/mocks"
)

func TestBroadcastSkipsExcludedSender(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSignalConnection(ctrl)
	a := mocks.NewMockSignalConnection(ctrl)
	b := mocks.NewMockSignalConnection(ctrl)

	frame := core.Frame(`{"type":"join","id":"s"}`)
	a.EXPECT().TrySend(frame).Return(nil).Times(1)
	b.EXPECT().TrySend(frame).Return(nil).Times(1)
	// sender has no expectations: any call fails the test

	res := core.Broadcaster{}.Broadcast([]core.Target{
		{ID: "s", Conn: sender},
		{ID: "a", Conn: a},
		{ID: "b", Conn: b},
	}, "s", frame)

	if res.SentTo != 2 {
		t.Fatalf("SentTo=%d, want 2", res.SentTo)
	}
	if len(res.Dropped) != 0 {
		t.Fatalf("Dropped=%d, want 0", len(res.Dropped))
	}
}

func TestBroadcastContinuesPastFailedRecipient(t *testing.T) {
	ctrl := gomock.NewController(t)
	slow := mocks.NewMockSignalConnection(ctrl)
	closed := mocks.NewMockSignalConnection(ctrl)
	ok := mocks.NewMockSignalConnection(ctrl)

	frame := core.Frame(`{"type":"leave","id":"x"}`)
	slow.EXPECT().TrySend(frame).Return(core.ErrBackpressure)
	closed.EXPECT().TrySend(frame).Return(core.ErrConnClosed)
	ok.EXPECT().TrySend(frame).Return(nil)

	res := core.Broadcaster{}.Broadcast([]core.Target{
		{ID: "slow", Conn: slow},
		{ID: "closed", Conn: closed},
		{ID: "ok", Conn: ok},
	}, "", frame)

	if res.SentTo != 1 {
		t.Fatalf("SentTo=%d, want 1", res.SentTo)
	}
	if len(res.Dropped) != 2 {
		t.Fatalf("Dropped=%d, want 2", len(res.Dropped))
	}
	if res.Dropped[0].ID != "slow" || res.Dropped[1].ID != "closed" {
		t.Fatalf("unexpected dropped order: %+v", res.Dropped)
	}
}

func TestBroadcastEmptyTargets(t *testing.T) {
	res := core.Broadcaster{}.Broadcast(nil, "", core.Frame("{}"))
	if res.SentTo != 0 || len(res.Dropped) != 0 {
		t.Fatalf("unexpected result for empty target set: %+v", res)
	}
}
