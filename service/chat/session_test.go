package chat

import (
	"testing"
	"time"

	"PPRoom/module/chat/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_CloseDrainsQueue(t *testing.T) {
	conn := newFakeConn()
	s := newSession("s1", model.Identity{ID: 1, Username: "alice"}, 42, conn, SessionConf{PingInterval: time.Hour, PongWait: 2 * time.Hour}, time.Now)
	require.NoError(t, s.Enqueue([]byte(`{"type":"a"}`)))
	require.NoError(t, s.Enqueue([]byte(`{"type":"b"}`)))
	s.Close(nil)
	go s.writePump()
	<-s.writerDone

	assert.Equal(t, "a", conn.next(t)["type"])
	assert.Equal(t, "b", conn.next(t)["type"])
	assert.Equal(t, []int{websocket.CloseNormalClosure}, conn.codes())
}
