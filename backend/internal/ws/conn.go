package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/gorilla/websocket"

	"github.com/cd-con/brainstorm/backend/internal/collab"
)

// Conn 把一条 websocket 连接和一个协议会话绑在一起
// 读循环解码 ClientMessage 交给协调器；写循环消费会话的出站通道
type Conn struct {
	ws   *websocket.Conn
	sess *collab.Session
	co   *collab.Coordinator
}

func NewConn(ws *websocket.Conn, sess *collab.Session, co *collab.Coordinator) *Conn {
	return &Conn{ws: ws, sess: sess, co: co}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		// 断连清理：releaseAll + 退出房间，然后收掉写循环
		c.co.Disconnect(context.Background(), c.sess)
		c.sess.CloseSend()
		c.ws.Close()
	}()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			// 对端关闭或传输错误，连接到头了
			log.Printf("read error (user=%d, room=%s): %v", c.sess.UserID, c.sess.RoomID(), err)
			return
		}
		var msg collab.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// websocket 帧自带消息边界：坏的一帧丢掉回个错就行，
			// 不用拖累整条连接
			log.Printf("bad frame (user=%d, room=%s): %v", c.sess.UserID, c.sess.RoomID(), err)
			c.sess.Enqueue(collab.ErrorMessage{Type: "error", Code: collab.CodeValidation, Message: "malformed message"})
			continue
		}
		if terminate := c.co.Dispatch(ctx, c.sess, msg); terminate {
			return
		}
	}
}

func (c *Conn) writeLoop() {
	// 持续消费通道中的出站消息，通道关闭即退出
	for msg := range c.sess.Send() {
		if err := c.ws.WriteJSON(msg); err != nil {
			log.Printf("write json error (user=%d): %v", c.sess.UserID, err)
			return
		}
	}
	// 协调器关闭了会话（例如删房），同步关掉底层连接
	c.ws.Close()
}
