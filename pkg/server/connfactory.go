package server

import (
	"net"

	logging "github.com/op/go-logging"

	"github.com/dmguessant/xchangeldap/pkg/exchange"
	"github.com/dmguessant/xchangeldap/pkg/ldapsvc"
	"github.com/dmguessant/xchangeldap/pkg/listener"
)

// connFactory adapts ldapsvc.NewConn to listener.ConnectionFactory.
type connFactory struct {
	log        *logging.Logger
	sessions   exchange.SessionFactory
	gatewayURL string
}

func newConnFactory(log *logging.Logger, sessions exchange.SessionFactory, gatewayURL string) listener.ConnectionFactory {
	return connFactory{log: log, sessions: sessions, gatewayURL: gatewayURL}
}

func (f connFactory) NewConnection(raw net.Conn) listener.Connection {
	return ldapsvc.NewConn(raw, f.log, f.sessions, f.gatewayURL)
}
