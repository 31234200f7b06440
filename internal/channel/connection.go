package channel

import (
	"github.com/danmuck/castctl/internal/protocol"
	"github.com/danmuck/castctl/internal/protocol/envelope"
	"github.com/danmuck/castctl/internal/protocol/jsonmsg"
)

// ConnectionChannel opens and closes the virtual connection to one
// receiver endpoint.
type ConnectionChannel struct {
	*Channel
	onRemoteClose func()
}

func NewConnectionChannel(conn Conn, source, destination string, opts ...Option) (*ConnectionChannel, error) {
	cc := &ConnectionChannel{}
	ch, err := New(conn, envelope.NewAddress(source, destination, protocol.NamespaceConnection), cc, opts...)
	if err != nil {
		return nil, err
	}
	cc.Channel = ch
	return cc, nil
}

// OnRemoteClose is called when the receiver closes the virtual connection.
func (cc *ConnectionChannel) OnRemoteClose(f func()) {
	cc.onRemoteClose = f
}

func (cc *ConnectionChannel) Connect() error {
	return cc.SendJSON(jsonmsg.New(protocol.TypeConnect))
}

// CloseVirtual tells the receiver the virtual connection is done. The
// channel stays registered.
func (cc *ConnectionChannel) CloseVirtual() error {
	return cc.SendJSON(jsonmsg.New(protocol.TypeClose))
}

func (cc *ConnectionChannel) OnText(text string) (bool, error) {
	msg, err := jsonmsg.Parse(text)
	if err != nil {
		return false, err
	}
	if msg.Type() != protocol.TypeClose {
		return false, nil
	}
	if cc.onRemoteClose != nil {
		cc.onRemoteClose()
	}
	return true, nil
}
