package main

import (
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"

	"ledgercore/internal/consensus"
)

// engineServer is the §6 wire-protocol listener: one TCP connection per
// attached consensus engine, each driving its own read/dispatch/reply
// loop. Commands and results ride the same length-delimited protobuf
// envelope the notifier uses for the opposite direction (consensus.wire).
type engineServer struct {
	ln         net.Listener
	transport  *consensus.TCPTransport
	facade     *consensus.Facade
	dispatcher *Dispatcher
	chainHead  func() string
	localID    string
	logger     *logrus.Logger
}

// Serve accepts engine connections until the listener is closed.
func (s *engineServer) Serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *engineServer) handleConn(conn net.Conn) {
	connID := uuid.New()
	s.transport.Register(connID, conn)
	s.logger.WithField("connection_id", connID).Info("ledgernode: engine attached")

	s.facade.Notify(consensus.Notification{
		Kind:         consensus.KindEngineActivated,
		ConnectionID: connID,
		ChainHead:    s.chainHead(),
		LocalID:      s.localID,
	})

	defer func() {
		s.transport.Unregister(connID)
		conn.Close()
		s.facade.Notify(consensus.Notification{Kind: consensus.KindEngineDeactivated, ConnectionID: connID})
		s.logger.WithField("connection_id", connID).Info("ledgernode: engine detached")
	}()

	for {
		var env structpb.Struct
		if err := consensus.ReadDelimited(conn, &env); err != nil {
			if err != io.EOF {
				s.logger.WithError(err).WithField("connection_id", connID).Warn("ledgernode: engine connection read failed")
			}
			return
		}
		cmd, err := consensus.DecodeCommand(&env)
		if err != nil {
			s.logger.WithError(err).WithField("connection_id", connID).Warn("ledgernode: malformed command")
			continue
		}
		cmd.ConnectionID = connID

		result := s.dispatcher.Dispatch(cmd)

		reply, err := consensus.EncodeCommandResult(result)
		if err != nil {
			s.logger.WithError(err).WithField("connection_id", connID).Warn("ledgernode: encode command result")
			return
		}
		if err := consensus.WriteDelimited(conn, reply); err != nil {
			s.logger.WithError(err).WithField("connection_id", connID).Warn("ledgernode: engine connection write failed")
			return
		}
	}
}
