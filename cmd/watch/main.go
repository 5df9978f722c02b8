package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"keepaway.dev/internal/observerproto"
)

func main() {
	var (
		url   = flag.String("url", "ws://127.0.0.1:8080/v1/ws", "observer ws url")
		every = flag.Int("every", 1, "print one round per N rounds")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		Every:           *every,
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			logger.Printf("read: %v", err)
			return
		}
		var m observerproto.RoundMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			continue
		}
		switch m.Type {
		case observerproto.TypeRound:
			logger.Printf("ROUND run=%s round=%d score=%d inspected=%v", m.RunID, m.Round, m.Score, m.Inspected)
		case observerproto.TypeDone:
			if m.Error != "" {
				logger.Printf("DONE run=%s round=%d error=%s", m.RunID, m.Round, m.Error)
				continue
			}
			logger.Printf("DONE run=%s round=%d score=%d", m.RunID, m.Round, m.Score)
		}
	}
}
